package diagnostics

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
)

// HealthProber reports whether the transcription service answers its health
// endpoint. The transcribe client satisfies this.
type HealthProber func(ctx context.Context, baseURL string) error

// Checker validates the configured endpoint and local export environment.
type Checker struct {
	probe      HealthProber
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using the given health prober and real OS
// dependencies.
func NewChecker(probe HealthProber) *Checker {
	return &Checker{
		probe:      probe,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	endpointItem := c.checkEndpointURL(settings.EndpointURL)
	items := []domain.DiagnosticItem{
		endpointItem,
		c.checkServiceHealth(ctx, settings.EndpointURL, endpointItem.Status == domain.DiagnosticStatusPass),
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkEndpointURL validates the configured service base URL.
func (c *Checker) checkEndpointURL(endpoint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "endpoint_url",
		Name: "Service endpoint",
	}

	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Service endpoint URL is empty."
		item.Hint = "Set the transcription service base URL in settings."
		return item
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Service endpoint URL is not a valid http(s) URL: %s", trimmed)
		item.Hint = "Use a full base URL such as https://example.ngrok-free.app."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Endpoint configured: %s", trimmed)
	return item
}

// checkServiceHealth probes the health endpoint. An unreachable service is
// reported but never blocks the app.
func (c *Checker) checkServiceHealth(ctx context.Context, endpoint string, endpointValid bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "service_health",
		Name: "Service health",
	}

	if !endpointValid {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Health probe skipped: endpoint URL is invalid."
		item.Hint = "Fix the endpoint URL first."
		return item
	}
	if c.probe == nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Health probe is not configured."
		return item
	}

	if err := c.probe(ctx, strings.TrimSpace(endpoint)); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Service is unreachable: %v", err)
		item.Hint = "Check that the service is running; a tunneling gateway may be showing a browser warning page."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "Service answered the health probe."
	return item
}

// checkOutputDir validates transcript export directory existence and write
// access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Transcript directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Transcript directory is empty."
		item.Hint = "Set a directory where transcript files can be saved."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create transcript directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Transcript directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for transcript export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	probe HealthProber,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		probe:      probe,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
