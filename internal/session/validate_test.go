package session

import (
	"errors"
	"testing"

	"audio-transcriber/internal/domain"
)

// TestValidateFileAcceptsAudio verifies a typical audio file passes.
func TestValidateFileAcceptsAudio(t *testing.T) {
	err := ValidateFile(domain.SelectedFile{
		Name:     "memo.mp3",
		Size:     4 * 1024 * 1024,
		MimeType: "audio/mpeg",
	})
	if err != nil {
		t.Fatalf("ValidateFile() error = %v", err)
	}
}

// TestValidateFileRejectsNonAudio checks the media category rule.
func TestValidateFileRejectsNonAudio(t *testing.T) {
	for _, mimeType := range []string{"video/mp4", "application/pdf", "text/plain", ""} {
		err := ValidateFile(domain.SelectedFile{
			Name:     "candidate",
			Size:     1024,
			MimeType: mimeType,
		})
		if !errors.Is(err, ErrInvalidType) {
			t.Fatalf("mime %q: error = %v, want %v", mimeType, err, ErrInvalidType)
		}
	}
}

// TestValidateFileRejectsOversized checks the 25 MiB ceiling.
func TestValidateFileRejectsOversized(t *testing.T) {
	err := ValidateFile(domain.SelectedFile{
		Name:     "long.wav",
		Size:     MaxUploadBytes + 1,
		MimeType: "audio/wav",
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("error = %v, want %v", err, ErrFileTooLarge)
	}
}

// TestValidateFileAcceptsExactLimit checks the boundary is inclusive.
func TestValidateFileAcceptsExactLimit(t *testing.T) {
	err := ValidateFile(domain.SelectedFile{
		Name:     "edge.wav",
		Size:     MaxUploadBytes,
		MimeType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("ValidateFile() error = %v", err)
	}
}

// TestValidateFileTypeCheckedBeforeSize verifies the rejection priority.
func TestValidateFileTypeCheckedBeforeSize(t *testing.T) {
	err := ValidateFile(domain.SelectedFile{
		Name:     "huge.mp4",
		Size:     MaxUploadBytes + 1,
		MimeType: "video/mp4",
	})
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("error = %v, want %v", err, ErrInvalidType)
	}
}
