package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/session"
	"audio-transcriber/internal/transcribe"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save is a no-op for tests.
func (s *fakeStore) Save(domain.Settings) error {
	return nil
}

// fakeClient allows injecting custom submission behavior per test.
type fakeClient struct {
	run    func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error)
	health func(ctx context.Context) error
}

// Transcribe delegates to injected function. The default mirrors the real
// client: the processing stage always precedes a success outcome.
func (c *fakeClient) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
	if c.run == nil {
		if req.OnStage != nil {
			req.OnStage(transcribe.StageProcessing)
		}
		return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "ok"}, nil
	}
	return c.run(ctx, req)
}

// Health delegates to injected function.
func (c *fakeClient) Health(ctx context.Context) error {
	if c.health == nil {
		return nil
	}
	return c.health(ctx)
}

// fakeFileInfo fabricates stat results for size-limit tests.
type fakeFileInfo struct {
	name string
	size int64
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

// newTestApp builds an App with fakes and an audio-reporting MIME sniffer.
func newTestApp(t *testing.T, client transcriberClient) *App {
	t.Helper()
	settings := domain.Settings{
		EndpointURL: "http://localhost:8000",
		OutputDir:   t.TempDir(),
	}

	attempt := 0
	return &App{
		Settings:   settings,
		Store:      &fakeStore{settings: settings},
		Session:    session.NewManager(),
		Client:     client,
		events:     session.NewEventBus(100),
		detectMime: func(string) (string, error) { return "audio/mpeg", nil },
		statFile:   os.Stat,
		newAttemptID: func() string {
			attempt++
			return fmt.Sprintf("attempt-%d", attempt)
		},
	}
}

// stageAudioFile writes a fixture and selects it through validation.
func stageAudioFile(t *testing.T, app *App) domain.SelectedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	selected, err := app.SelectFile(path)
	if err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	return selected
}

// waitForStatus polls until the session reaches desired status or times out.
func waitForStatus(t *testing.T, app *App, want domain.RequestStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.Session.Current().Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", app.Session.Current().Status, want)
}

// countEvents returns how many stored events have the given type.
func countEvents(app *App, want session.EventType) int {
	count := 0
	for _, event := range app.SessionEvents(0) {
		if event.Type == want {
			count++
		}
	}
	return count
}

// TestSelectFileRejectsNonAudio checks the media category rule end to end.
func TestSelectFileRejectsNonAudio(t *testing.T) {
	app := newTestApp(t, &fakeClient{})
	app.detectMime = func(string) (string, error) { return "video/mp4", nil }

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := app.SelectFile(path); !errors.Is(err, session.ErrInvalidType) {
		t.Fatalf("error = %v, want %v", err, session.ErrInvalidType)
	}

	snap := app.GetSession()
	if snap.SelectedFile != nil {
		t.Fatal("rejected file should not be staged")
	}
	if snap.State.Status != domain.RequestStatusIdle {
		t.Fatalf("status = %s, want idle", snap.State.Status)
	}
}

// TestSelectFileRejectsOversized checks the size ceiling end to end.
func TestSelectFileRejectsOversized(t *testing.T) {
	app := newTestApp(t, &fakeClient{})
	app.statFile = func(path string) (os.FileInfo, error) {
		return fakeFileInfo{name: "big.wav", size: session.MaxUploadBytes + 1}, nil
	}

	if _, err := app.SelectFile("/tmp/big.wav"); !errors.Is(err, session.ErrFileTooLarge) {
		t.Fatalf("error = %v, want %v", err, session.ErrFileTooLarge)
	}
}

// TestSelectFileReplacesPriorAttempt checks that a new selection discards
// any prior transcript or error.
func TestSelectFileReplacesPriorAttempt(t *testing.T) {
	app := newTestApp(t, &fakeClient{})
	stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, app, domain.RequestStatusSuccess)

	selected := stageAudioFile(t, app)
	snap := app.GetSession()
	if snap.State.Status != domain.RequestStatusIdle {
		t.Fatalf("status = %s, want idle", snap.State.Status)
	}
	if snap.State.Transcript != "" {
		t.Fatalf("transcript = %q, want empty", snap.State.Transcript)
	}
	if snap.SelectedFile == nil || snap.SelectedFile.Name != selected.Name {
		t.Fatalf("selected = %+v", snap.SelectedFile)
	}
}

// TestSubmitTranscriptionSuccessFlow checks the full happy path with
// progress transitions and published events.
func TestSubmitTranscriptionSuccessFlow(t *testing.T) {
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			if req.OnStage != nil {
				req.OnStage(transcribe.StageUploading)
				req.OnStage(transcribe.StageProcessing)
			}
			return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "hello world"}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)

	state, err := app.SubmitTranscription()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Status != domain.RequestStatusUploading || state.Progress != 0 {
		t.Fatalf("initial state = %+v", state)
	}

	waitForStatus(t, app, domain.RequestStatusSuccess)
	final := app.Session.Current()
	if final.Progress != 100 {
		t.Fatalf("progress = %d, want 100", final.Progress)
	}
	if final.Transcript != "hello world" {
		t.Fatalf("transcript = %q", final.Transcript)
	}

	if countEvents(app, session.EventTypeStatus) == 0 {
		t.Fatal("expected status events")
	}
	if countEvents(app, session.EventTypeResult) != 1 {
		t.Fatal("expected one result event")
	}
}

// TestSubmitRejectsWhileInFlight checks the at-most-one invariant.
func TestSubmitRejectsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			<-release
			if req.OnStage != nil {
				req.OnStage(transcribe.StageProcessing)
			}
			return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "done"}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := app.SubmitTranscription(); !errors.Is(err, session.ErrAttemptInFlight) {
		t.Fatalf("second submit error = %v, want %v", err, session.ErrAttemptInFlight)
	}

	close(release)
	waitForStatus(t, app, domain.RequestStatusSuccess)
}

// TestSubmitWithoutSelectionFails checks the staged-file guard.
func TestSubmitWithoutSelectionFails(t *testing.T) {
	app := newTestApp(t, &fakeClient{})
	if _, err := app.SubmitTranscription(); !errors.Is(err, ErrNoFileSelected) {
		t.Fatalf("error = %v, want %v", err, ErrNoFileSelected)
	}
}

// TestGatewayAdvisoryRaisedOncePerSession checks the one-time notice and
// the persistent banner flag.
func TestGatewayAdvisoryRaisedOncePerSession(t *testing.T) {
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			return transcribe.Outcome{
				Kind:            transcribe.OutcomeUnreachable,
				Message:         "unable to reach the transcription service",
				GatewayAdvisory: true,
				Diagnostics:     &domain.RequestDiagnostics{TransportError: "connection refused"},
			}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, app, domain.RequestStatusError)

	if !app.GetSession().GatewayAdvisory {
		t.Fatal("expected gateway advisory flag")
	}
	if got := countEvents(app, session.EventTypeAdvisory); got != 1 {
		t.Fatalf("advisory events = %d, want 1", got)
	}

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	waitForStatus(t, app, domain.RequestStatusError)

	if got := countEvents(app, session.EventTypeAdvisory); got != 1 {
		t.Fatalf("advisory events after retry = %d, want 1", got)
	}
}

// TestSubmitFailurePublishesDiagnostics checks error event payloads.
func TestSubmitFailurePublishesDiagnostics(t *testing.T) {
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			return transcribe.Outcome{
				Kind:        transcribe.OutcomeHTTPError,
				Message:     "transcription service returned status 500: model crashed",
				Diagnostics: &domain.RequestDiagnostics{StatusCode: 500, Body: "model crashed"},
			}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, app, domain.RequestStatusError)

	state := app.Session.Current()
	if state.Diagnostics == nil || state.Diagnostics.StatusCode != 500 {
		t.Fatalf("diagnostics = %+v", state.Diagnostics)
	}

	found := false
	for _, event := range app.SessionEvents(0) {
		if event.Type == session.EventTypeError && event.Diagnostics != nil {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected an error event carrying diagnostics")
	}
}

// TestSelectFileRejectedWhileInFlight checks that a running upload cannot
// be displaced by a new selection.
func TestSelectFileRejectedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			<-release
			if req.OnStage != nil {
				req.OnStage(transcribe.StageProcessing)
			}
			return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "done"}, nil
		},
	}
	app := newTestApp(t, client)
	staged := stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	path := filepath.Join(t.TempDir(), "other.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := app.SelectFile(path); !errors.Is(err, session.ErrAttemptInFlight) {
		t.Fatalf("select error = %v, want %v", err, session.ErrAttemptInFlight)
	}
	if snap := app.GetSession(); snap.SelectedFile == nil || snap.SelectedFile.Name != staged.Name {
		t.Fatalf("staged file changed: %+v", snap.SelectedFile)
	}

	close(release)
	waitForStatus(t, app, domain.RequestStatusSuccess)
}

// TestResetSessionRejectedWhileInFlight checks that reset never abandons a
// running attempt.
func TestResetSessionRejectedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			<-release
			if req.OnStage != nil {
				req.OnStage(transcribe.StageProcessing)
			}
			return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "done"}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := app.ResetSession(); !errors.Is(err, session.ErrAttemptInFlight) {
		t.Fatalf("reset error = %v, want %v", err, session.ErrAttemptInFlight)
	}
	if snap := app.GetSession(); snap.SelectedFile == nil {
		t.Fatal("staged file should survive a refused reset")
	}

	close(release)
	waitForStatus(t, app, domain.RequestStatusSuccess)

	if _, err := app.ResetSession(); err != nil {
		t.Fatalf("reset after completion: %v", err)
	}
}

// TestRunAttemptUsesClientCapturedAtSubmit checks that rebinding the client
// mid-attempt does not affect the running submission.
func TestRunAttemptUsesClientCapturedAtSubmit(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			<-release
			if req.OnStage != nil {
				req.OnStage(transcribe.StageProcessing)
			}
			return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "captured"}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	app.mu.Lock()
	app.Client = &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			return transcribe.Outcome{Kind: transcribe.OutcomeSuccess, Transcript: "rebound"}, nil
		},
	}
	app.mu.Unlock()

	close(release)
	waitForStatus(t, app, domain.RequestStatusSuccess)
	if got := app.Session.Current().Transcript; got != "captured" {
		t.Fatalf("transcript = %q, want captured", got)
	}
}

// TestRunAttemptDropsStaleOutcome checks that an outcome from a superseded
// attempt neither touches the live state nor publishes events.
func TestRunAttemptDropsStaleOutcome(t *testing.T) {
	app := newTestApp(t, &fakeClient{})
	file := stageAudioFile(t, app)
	if err := app.Session.Begin("attempt-live"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	stale := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			return transcribe.Outcome{
				Kind:            transcribe.OutcomeUnreachable,
				Message:         "unable to reach the transcription service",
				GatewayAdvisory: true,
			}, nil
		},
	}
	app.runAttempt(stale, "attempt-stale", file)

	state := app.Session.Current()
	if state.AttemptID != "attempt-live" || state.Status != domain.RequestStatusUploading {
		t.Fatalf("live state = %+v", state)
	}
	if countEvents(app, session.EventTypeError) != 0 {
		t.Fatal("stale outcome should not publish error events")
	}
	if countEvents(app, session.EventTypeAdvisory) != 0 {
		t.Fatal("stale outcome should not raise the advisory")
	}
}

// TestResetSessionClearsAllState checks the atomic reset contract.
func TestResetSessionClearsAllState(t *testing.T) {
	client := &fakeClient{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error) {
			return transcribe.Outcome{
				Kind:            transcribe.OutcomeUnreachable,
				Message:         "unable to reach the transcription service",
				GatewayAdvisory: true,
			}, nil
		},
	}
	app := newTestApp(t, client)
	stageAudioFile(t, app)
	app.SetDebugPanelOpen(true)

	if _, err := app.SubmitTranscription(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, app, domain.RequestStatusError)

	snap, err := app.ResetSession()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if snap.State.Status != domain.RequestStatusIdle {
		t.Fatalf("status = %s, want idle", snap.State.Status)
	}
	if snap.SelectedFile != nil {
		t.Fatal("selected file should be cleared")
	}
	if snap.GatewayAdvisory {
		t.Fatal("advisory flag should be cleared")
	}
	if snap.DebugPanelOpen {
		t.Fatal("debug panel flag should be cleared")
	}
	if state := app.Session.Current(); state.Error != "" || state.Transcript != "" || state.Diagnostics != nil {
		t.Fatalf("state not empty after reset: %+v", state)
	}
}
