package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
)

const (
	// DefaultTimeout is the full budget for one submission, upload included.
	DefaultTimeout = 120 * time.Second

	transcribePath = "/transcribe"
	healthPath     = "/health"
	healthTimeout  = 10 * time.Second

	bypassHeader = "ngrok-skip-browser-warning"
	clientID     = "audio-transcriber/1.0"
)

// Stage names reported through Request.OnStage.
const (
	StageUploading  = "uploading"
	StageProcessing = "processing"
)

// Request contains the staged audio file and progress callbacks for one
// submission.
type Request struct {
	AudioPath string
	FileName  string
	OnStage   func(stage string)
}

// Client submits audio files to the remote transcription service and
// classifies every response into a terminal Outcome.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient constructs a production client for the given endpoint base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
}

// NewClientForTests constructs a client with injectable transport and budget.
func NewClientForTests(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	client := NewClient(baseURL)
	if httpClient != nil {
		client.httpClient = httpClient
	}
	if timeout > 0 {
		client.timeout = timeout
	}
	return client
}

// BaseURL returns the configured endpoint base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Transcribe performs exactly one multipart submission and returns its
// classified outcome. A returned error means the attempt could not be
// constructed locally (unreadable file, bad URL); every wire-level result,
// including failures, arrives as an Outcome.
func (c *Client) Transcribe(ctx context.Context, req Request) (Outcome, error) {
	data, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("read audio file: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return Outcome{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return Outcome{}, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Outcome{}, fmt.Errorf("close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+transcribePath, &body)
	if err != nil {
		return Outcome{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	setServiceHeaders(httpReq)

	startedAt := time.Now()
	emitStage(req.OnStage, StageUploading)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.classifyTransportFailure(err, startedAt), nil
	}
	defer resp.Body.Close()

	emitStage(req.OnStage, StageProcessing)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classifyTransportFailure(err, startedAt), nil
	}

	diag := &domain.RequestDiagnostics{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(respBody),
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
	}

	return classifyHTTP(c.baseURL, resp.StatusCode, resp.Header, respBody, diag), nil
}

// Health probes the service health endpoint. Failure is non-fatal; callers
// surface it through diagnostics only.
func (c *Client) Health(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	setServiceHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// classifyTransportFailure maps errors with no usable HTTP response. The
// timeout budget is the sole cancellation trigger, so a deadline error is
// always the 120-second abort. Anything else is indistinguishable from the
// gateway interstitial blocking the request, so the bypass advisory is
// raised as a heuristic.
func (c *Client) classifyTransportFailure(err error, startedAt time.Time) Outcome {
	diag := &domain.RequestDiagnostics{
		TransportError: err.Error(),
		StartedAt:      startedAt.UTC(),
		FinishedAt:     time.Now().UTC(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{
			Kind:        OutcomeTimeout,
			Message:     "request timed out: retry with a shorter audio file",
			Diagnostics: diag,
		}
	}

	return Outcome{
		Kind:            OutcomeUnreachable,
		Message:         "unable to reach the transcription service",
		GatewayAdvisory: true,
		Diagnostics:     diag,
	}
}

// setServiceHeaders applies the fixed header set sent with every request.
func setServiceHeaders(req *http.Request) {
	req.Header.Set(bypassHeader, "true")
	req.Header.Set("X-Client", clientID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}

// emitStage forwards stage updates when a callback is configured.
func emitStage(cb func(stage string), stage string) {
	if cb != nil {
		cb(stage)
	}
}

// flattenHeaders keeps the first value of each response header for the
// diagnostic bundle.
func flattenHeaders(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}

	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
