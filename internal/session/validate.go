package session

import (
	"errors"
	"strings"

	"audio-transcriber/internal/domain"
)

// MaxUploadBytes is the hard ceiling accepted by the remote service.
const MaxUploadBytes = 25 * 1024 * 1024

// audioMimePrefix is the media category accepted for submission.
const audioMimePrefix = "audio/"

// ErrInvalidType is returned when the selected file is not audio.
var ErrInvalidType = errors.New("invalid type: select an audio file")

// ErrFileTooLarge is returned when the selected file exceeds 25 MiB.
var ErrFileTooLarge = errors.New("too large: audio files must be 25 MiB or smaller")

// ValidateFile applies the pre-submission acceptance rules. It performs no
// I/O; callers stat and sniff the candidate before building a SelectedFile.
func ValidateFile(file domain.SelectedFile) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(file.MimeType)), audioMimePrefix) {
		return ErrInvalidType
	}
	if file.Size > MaxUploadBytes {
		return ErrFileTooLarge
	}
	return nil
}
