package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wailsapp/mimetype"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/session"
	"audio-transcriber/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// selectedMediaPath serves the staged audio file to the playback widget.
const selectedMediaPath = "/media/selected"

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.opus;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// ErrNoFileSelected is returned when submitting without an accepted file.
var ErrNoFileSelected = errors.New("no audio file selected")

// ErrNoTranscript is returned when copy/save is requested before success.
var ErrNoTranscript = errors.New("no transcript available")

// transcriberClient isolates the transcription service client behind an
// interface.
type transcriberClient interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Outcome, error)
	Health(ctx context.Context) error
}

// SessionSnapshot bundles everything the presentation layer reads.
// GatewayAdvisory here is the persistent banner flag; it outlives the
// attempt that raised it and clears only on reset.
type SessionSnapshot struct {
	State           domain.RequestState  `json:"state"`
	SelectedFile    *domain.SelectedFile `json:"selectedFile,omitempty"`
	GatewayAdvisory bool                 `json:"gatewayAdvisory"`
	DebugPanelOpen  bool                 `json:"debugPanelOpen"`
}

// App wires configuration, session state, the service client, and UI
// runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Session     *session.Manager
	Client      transcriberClient
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker

	mu           sync.Mutex
	selected     *domain.SelectedFile
	advisory     bool
	debugVisible bool
	events       *session.EventBus
	runtimeCtx   context.Context
	detectMime   func(path string) (string, error)
	statFile     func(path string) (os.FileInfo, error)
	newAttemptID func() string
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".audio-transcriber", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker(probeHealth)
	report := checker.Run(context.Background(), settings)

	return &App{
		Settings:     settings,
		Store:        store,
		Session:      session.NewManager(),
		Client:       transcribe.NewClient(settings.EndpointURL),
		Diagnostics:  report,
		assets:       assets,
		checker:      checker,
		events:       session.NewEventBus(1000),
		detectMime:   detectFileMime,
		statFile:     os.Stat,
		newAttemptID: uuid.NewString,
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{
		Middleware: a.selectedMediaMiddleware,
	}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Audio Transcriber",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop:     true,
			DisableWebViewDrop: true,
		},
		OnStartup: a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores the Wails runtime context and registers the OS file-drop
// handler feeding the validation entry point.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	wailsruntime.OnFileDrop(ctx, func(x, y int, paths []string) {
		if len(paths) == 0 {
			return
		}
		if _, err := a.SelectFile(paths[0]); err != nil {
			a.publishEvent(session.Event{
				Type:    session.EventTypeError,
				Message: err.Error(),
			})
		}
	})
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.checker.Run(context.Background(), settings)

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = report
	a.mu.Unlock()

	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings persists settings, rebinds the service client to the new
// endpoint, and refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	report := a.checker.Run(context.Background(), normalized)

	a.mu.Lock()
	a.Settings = normalized
	a.Client = transcribe.NewClient(normalized.EndpointURL)
	a.Diagnostics = report
	a.mu.Unlock()

	return normalized, nil
}

// PickAudioFile opens a native file dialog for audio selection.
func (a *App) PickAudioFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio file",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// SelectFile validates a candidate audio file. Acceptance replaces the
// previous selection and resets the request state to idle; rejection leaves
// all state untouched. Selection is refused while an attempt is in flight
// so a running upload is never silently discarded. No network I/O happens
// here.
func (a *App) SelectFile(path string) (domain.SelectedFile, error) {
	if a.Session.IsInFlight() {
		return domain.SelectedFile{}, session.ErrAttemptInFlight
	}

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return domain.SelectedFile{}, ErrNoFileSelected
	}

	info, err := a.statFile(trimmed)
	if err != nil {
		return domain.SelectedFile{}, fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return domain.SelectedFile{}, session.ErrInvalidType
	}

	mimeType, err := a.detectMime(trimmed)
	if err != nil {
		return domain.SelectedFile{}, fmt.Errorf("detect media type: %w", err)
	}

	candidate := domain.SelectedFile{
		Name:     filepath.Base(trimmed),
		Path:     trimmed,
		Size:     info.Size(),
		MimeType: mimeType,
	}
	if err := session.ValidateFile(candidate); err != nil {
		return domain.SelectedFile{}, err
	}

	a.mu.Lock()
	a.selected = &candidate
	a.mu.Unlock()
	a.Session.Reset()

	a.publishStatus("", domain.RequestStatusIdle, 0, "File selected: "+candidate.Name)
	return candidate, nil
}

// SubmitTranscription starts one submission attempt for the staged file.
// A second submit while one is in flight is rejected, never queued.
func (a *App) SubmitTranscription() (domain.RequestState, error) {
	a.mu.Lock()
	selected := a.selected
	client := a.Client
	a.mu.Unlock()

	if selected == nil {
		return domain.RequestState{}, ErrNoFileSelected
	}

	attemptID := a.newAttemptID()
	if err := a.Session.Begin(attemptID); err != nil {
		return domain.RequestState{}, err
	}

	a.publishStatus(attemptID, domain.RequestStatusUploading, 0, "Uploading "+selected.Name)
	go a.runAttempt(client, attemptID, *selected)
	return a.Session.Current(), nil
}

// GetSession returns the full presentation-facing snapshot.
func (a *App) GetSession() SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return SessionSnapshot{
		State:           a.Session.Current(),
		SelectedFile:    a.selected,
		GatewayAdvisory: a.advisory,
		DebugPanelOpen:  a.debugVisible,
	}
}

// SessionEvents returns all events with sequence greater than sinceSeq.
func (a *App) SessionEvents(sinceSeq int64) []session.Event {
	return a.events.Since(sinceSeq)
}

// SetDebugPanelOpen toggles the diagnostics panel visibility flag.
func (a *App) SetDebugPanelOpen(open bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.debugVisible = open
	return a.debugVisible
}

// ResetSession clears the selected file, request state, advisory banner,
// and debug panel flag in one step. Reset is refused while an attempt is in
// flight; abandoning a running upload would allow a second concurrent
// submission.
func (a *App) ResetSession() (SessionSnapshot, error) {
	if a.Session.IsInFlight() {
		return SessionSnapshot{}, session.ErrAttemptInFlight
	}

	a.mu.Lock()
	a.selected = nil
	a.advisory = false
	a.debugVisible = false
	a.mu.Unlock()
	a.Session.Reset()

	a.publishStatus("", domain.RequestStatusIdle, 0, "Session reset")
	return a.GetSession(), nil
}

// CopyTranscript places the successful transcript on the system clipboard.
func (a *App) CopyTranscript() error {
	state := a.Session.Current()
	if state.Status != domain.RequestStatusSuccess || state.Transcript == "" {
		return ErrNoTranscript
	}

	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}
	return wailsruntime.ClipboardSetText(ctx, state.Transcript)
}

// SaveTranscript writes the transcript to a user-chosen .txt file and
// returns the path, or empty string when the dialog is cancelled.
func (a *App) SaveTranscript() (string, error) {
	state := a.Session.Current()
	if state.Status != domain.RequestStatusSuccess || state.Transcript == "" {
		return "", ErrNoTranscript
	}

	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defaultDir := a.Settings.OutputDir
	fileName := "transcript.txt"
	if a.selected != nil {
		base := strings.TrimSuffix(a.selected.Name, filepath.Ext(a.selected.Name))
		if base != "" {
			fileName = base + ".txt"
		}
	}
	a.mu.Unlock()

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Save transcript",
		DefaultDirectory: defaultDir,
		DefaultFilename:  fileName,
		Filters: []wailsruntime.FileFilter{
			{DisplayName: "Text files", Pattern: "*.txt"},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}

	if err := os.WriteFile(path, []byte(state.Transcript+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

// ExportDiagnostics writes the retained diagnostic bundle of the last failed
// attempt to a user-chosen JSON file.
func (a *App) ExportDiagnostics() (string, error) {
	state := a.Session.Current()
	if state.Diagnostics == nil {
		return "", errors.New("no diagnostics recorded for the current attempt")
	}

	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(state.Diagnostics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode diagnostics: %w", err)
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:           "Export diagnostics",
		DefaultFilename: "transcription-diagnostics.json",
		Filters: []wailsruntime.FileFilter{
			{DisplayName: "JSON files", Pattern: "*.json"},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write diagnostics: %w", err)
	}
	return path, nil
}

// OpenEndpointInBrowser opens the configured endpoint so the user can
// approve a gateway interstitial page once.
func (a *App) OpenEndpointInBrowser() error {
	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}

	a.mu.Lock()
	endpoint := a.Settings.EndpointURL
	a.mu.Unlock()
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("endpoint URL is not configured")
	}

	wailsruntime.BrowserOpenURL(ctx, endpoint)
	return nil
}

// runAttempt executes one submission with the client captured at submit
// time and maps its outcome onto the session. Every transition names the
// attempt, so a superseded attempt's outcome is dropped without publishing.
func (a *App) runAttempt(client transcriberClient, attemptID string, file domain.SelectedFile) {
	req := transcribe.Request{
		AudioPath: file.Path,
		FileName:  file.Name,
		OnStage: func(stage string) {
			if stage != transcribe.StageProcessing {
				return
			}
			if err := a.Session.MarkProcessing(attemptID); err == nil {
				a.publishStatus(attemptID, domain.RequestStatusProcessing, 50, "Response received, decoding")
			}
		},
	}

	outcome, err := client.Transcribe(context.Background(), req)
	if err != nil {
		message := fmt.Sprintf("could not submit file: %v", err)
		if err := a.Session.Fail(attemptID, message, nil, false); err != nil {
			return
		}
		a.publishStatus(attemptID, domain.RequestStatusError, 0, message)
		a.publishEvent(session.Event{
			AttemptID: attemptID,
			Type:      session.EventTypeError,
			Status:    domain.RequestStatusError,
			Message:   message,
		})
		return
	}

	switch outcome.Kind {
	case transcribe.OutcomeSuccess:
		if err := a.Session.Complete(attemptID, outcome.Transcript); err != nil {
			return
		}
		a.publishStatus(attemptID, domain.RequestStatusSuccess, 100, "Transcript ready")
		a.publishEvent(session.Event{
			AttemptID:  attemptID,
			Type:       session.EventTypeResult,
			Status:     domain.RequestStatusSuccess,
			Progress:   100,
			Transcript: outcome.Transcript,
		})
	case transcribe.OutcomeTimeout,
		transcribe.OutcomeHTTPError,
		transcribe.OutcomeUnreachable,
		transcribe.OutcomeBadPayload,
		transcribe.OutcomeNoTranscript:
		a.failAttempt(attemptID, outcome)
	default:
		outcome.Message = fmt.Sprintf("unexpected outcome kind %q", outcome.Kind)
		a.failAttempt(attemptID, outcome)
	}
}

// failAttempt records a terminal error outcome and raises the gateway
// advisory when the classification asked for it. Nothing is published when
// the session rejects the transition.
func (a *App) failAttempt(attemptID string, outcome transcribe.Outcome) {
	if err := a.Session.Fail(attemptID, outcome.Message, outcome.Diagnostics, outcome.GatewayAdvisory); err != nil {
		return
	}
	if outcome.GatewayAdvisory {
		a.raiseGatewayAdvisory(attemptID)
	}

	a.publishStatus(attemptID, domain.RequestStatusError, a.Session.Current().Progress, outcome.Message)
	a.publishEvent(session.Event{
		AttemptID:   attemptID,
		Type:        session.EventTypeError,
		Status:      domain.RequestStatusError,
		Message:     outcome.Message,
		Diagnostics: outcome.Diagnostics,
	})
}

// raiseGatewayAdvisory sets the persistent banner flag and emits the notice
// once per session.
func (a *App) raiseGatewayAdvisory(attemptID string) {
	a.mu.Lock()
	alreadyRaised := a.advisory
	a.advisory = true
	a.mu.Unlock()
	if alreadyRaised {
		return
	}

	a.publishEvent(session.Event{
		AttemptID: attemptID,
		Type:      session.EventTypeAdvisory,
		Message:   "The tunneling gateway may be intercepting requests with a browser warning page. Open the endpoint in a browser once to approve it.",
	})
}

// selectedMediaMiddleware serves the staged audio file to the playback
// widget at a stable URL.
func (a *App) selectedMediaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != selectedMediaPath {
			next.ServeHTTP(w, r)
			return
		}

		a.mu.Lock()
		selected := a.selected
		a.mu.Unlock()
		if selected == nil {
			http.NotFound(w, r)
			return
		}

		data, err := os.ReadFile(selected.Path)
		if err != nil {
			http.Error(w, "cannot read selected media", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", selected.MimeType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	})
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(attemptID string, status domain.RequestStatus, progress int, message string) {
	a.publishEvent(session.Event{
		AttemptID: attemptID,
		Type:      session.EventTypeStatus,
		Status:    status,
		Progress:  progress,
		Message:   message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event session.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "session:event", published)
	}
}

// runtimeContext returns the current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// probeHealth checks service reachability for the diagnostics report.
func probeHealth(ctx context.Context, baseURL string) error {
	return transcribe.NewClient(baseURL).Health(ctx)
}

// detectFileMime sniffs the file content for its media type; the declared
// extension alone is untrusted.
func detectFileMime(path string) (string, error) {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return detected.String(), nil
}
