package session

import (
	"errors"
	"fmt"
	"sync"

	"audio-transcriber/internal/domain"
)

// ErrAttemptInFlight is returned when submitting while another attempt runs.
var ErrAttemptInFlight = errors.New("transcription attempt already in flight")

// ErrNoActiveAttempt is returned for transitions without an active attempt.
var ErrNoActiveAttempt = errors.New("no active transcription attempt")

// ErrStaleAttempt is returned when a transition names an attempt that is no
// longer the current one. Late outcomes from superseded attempts must never
// touch the live state.
var ErrStaleAttempt = errors.New("attempt is no longer current")

// Manager owns the single request state and guards its transitions. A second
// submission while one is in flight is rejected, never queued or replaced.
type Manager struct {
	mu      sync.RWMutex
	current domain.RequestState
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.RequestState{
			Status: domain.RequestStatusIdle,
		},
	}
}

// Begin starts a new attempt in uploading state with progress zero.
func (m *Manager) Begin(attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isInFlight(m.current.Status) {
		return ErrAttemptInFlight
	}

	m.current = domain.RequestState{
		AttemptID: attemptID,
		Status:    domain.RequestStatusUploading,
		Progress:  0,
	}
	return nil
}

// MarkProcessing records that response headers arrived and decoding started.
// Progress moves to 50; no finer server-side signal exists.
func (m *Manager) MarkProcessing(attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureTransition(attemptID, domain.RequestStatusProcessing); err != nil {
		return err
	}

	m.current.Status = domain.RequestStatusProcessing
	m.current.Progress = 50
	return nil
}

// Complete moves the attempt to terminal success with the transcript text.
func (m *Manager) Complete(attemptID, transcript string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureTransition(attemptID, domain.RequestStatusSuccess); err != nil {
		return err
	}

	m.current.Status = domain.RequestStatusSuccess
	m.current.Progress = 100
	m.current.Transcript = transcript
	m.current.Error = ""
	m.current.Diagnostics = nil
	return nil
}

// Fail moves the attempt to terminal error with the classified message and
// the retained diagnostic bundle.
func (m *Manager) Fail(attemptID, message string, diag *domain.RequestDiagnostics, gatewayAdvisory bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureTransition(attemptID, domain.RequestStatusError); err != nil {
		return err
	}

	m.current.Status = domain.RequestStatusError
	m.current.Error = message
	m.current.Diagnostics = diag
	m.current.GatewayAdvisory = gatewayAdvisory
	m.current.Transcript = ""
	return nil
}

// Current returns a snapshot of the request state.
func (m *Manager) Current() domain.RequestState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset discards the attempt and returns the manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.RequestState{Status: domain.RequestStatusIdle}
}

// IsInFlight reports whether an attempt is currently uploading or processing.
func (m *Manager) IsInFlight() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isInFlight(m.current.Status)
}

// ensureTransition validates attempt identity and the requested edge
// against the state machine.
func (m *Manager) ensureTransition(attemptID string, to domain.RequestStatus) error {
	if m.current.AttemptID == "" {
		return ErrNoActiveAttempt
	}
	if attemptID != m.current.AttemptID {
		return ErrStaleAttempt
	}
	if !isValidTransition(m.current.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, to)
	}
	return nil
}

// isInFlight checks if a status represents an active network attempt.
func isInFlight(status domain.RequestStatus) bool {
	switch status {
	case domain.RequestStatusUploading, domain.RequestStatusProcessing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed request state machine edges.
func isValidTransition(from, to domain.RequestStatus) bool {
	switch from {
	case domain.RequestStatusIdle:
		return to == domain.RequestStatusUploading
	case domain.RequestStatusUploading:
		return to == domain.RequestStatusProcessing || to == domain.RequestStatusError
	case domain.RequestStatusProcessing:
		return to == domain.RequestStatusSuccess || to == domain.RequestStatusError
	case domain.RequestStatusSuccess, domain.RequestStatusError:
		return to == domain.RequestStatusUploading || to == domain.RequestStatusIdle
	default:
		return false
	}
}
