package config

import (
	"os"
	"path/filepath"

	"audio-transcriber/internal/domain"
)

// DefaultEndpointURL points at a locally running transcription service.
// Tunneled deployments replace it with the public gateway URL in settings.
const DefaultEndpointURL = "http://localhost:8000"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		EndpointURL: DefaultEndpointURL,
		OutputDir:   filepath.Join(homeDir, "Documents", "Transcripts"),
	}
}
