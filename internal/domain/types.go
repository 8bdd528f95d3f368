package domain

import "time"

// RequestStatus tracks the lifecycle of a single transcription attempt.
type RequestStatus string

const (
	RequestStatusIdle       RequestStatus = "idle"
	RequestStatusUploading  RequestStatus = "uploading"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusSuccess    RequestStatus = "success"
	RequestStatusError      RequestStatus = "error"
)

// SelectedFile describes the audio file currently staged for submission.
type SelectedFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Settings contains user-editable runtime configuration.
type Settings struct {
	EndpointURL string `json:"endpointUrl"`
	OutputDir   string `json:"outputDir"`
}

// RequestState is the single source of truth for one transcription attempt.
// Transcript is meaningful only in success, Error and Diagnostics only in
// error. Progress is coarse: 0 while uploading, 50 while processing, 100 on
// success; the remote service provides no finer signal.
type RequestState struct {
	AttemptID       string              `json:"attemptId"`
	Status          RequestStatus       `json:"status"`
	Progress        int                 `json:"progress"`
	Transcript      string              `json:"transcript,omitempty"`
	Error           string              `json:"error,omitempty"`
	GatewayAdvisory bool                `json:"gatewayAdvisory,omitempty"`
	Diagnostics     *RequestDiagnostics `json:"diagnostics,omitempty"`
}

// RequestDiagnostics is the raw failure bundle kept for display and export.
// It is inert data and is never re-parsed after classification.
type RequestDiagnostics struct {
	StatusCode     int               `json:"statusCode,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TransportError string            `json:"transportError,omitempty"`
	StartedAt      time.Time         `json:"startedAt,omitempty"`
	FinishedAt     time.Time         `json:"finishedAt,omitempty"`
}
