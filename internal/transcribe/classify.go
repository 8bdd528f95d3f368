package transcribe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"audio-transcriber/internal/domain"
)

// OutcomeKind discriminates the terminal result of one submission.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeTimeout      OutcomeKind = "timeout"
	OutcomeHTTPError    OutcomeKind = "http_error"
	OutcomeUnreachable  OutcomeKind = "unreachable"
	OutcomeBadPayload   OutcomeKind = "bad_payload"
	OutcomeNoTranscript OutcomeKind = "no_transcript"
)

// Outcome is the classified terminal result of a transcription submission.
// Transcript is set only for OutcomeSuccess; Message is the user-facing
// error text for every other kind. Diagnostics carries the raw failure
// detail and is treated as inert data by all consumers.
type Outcome struct {
	Kind            OutcomeKind                `json:"kind"`
	Transcript      string                     `json:"transcript,omitempty"`
	Message         string                     `json:"message,omitempty"`
	GatewayAdvisory bool                       `json:"gatewayAdvisory,omitempty"`
	Diagnostics     *domain.RequestDiagnostics `json:"diagnostics,omitempty"`
}

// transcriptPayload is the expected success body; transcript wins over text.
type transcriptPayload struct {
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

// gatewayMarkers are literal substrings of the ngrok interstitial page. The
// match is intentionally isolated behind LooksLikeGatewayInterstitial so it
// can be swapped for a sentinel-header check without touching classification.
var gatewayMarkers = []string{
	"ngrok-skip-browser-warning",
	"ERR_NGROK",
	"You are about to visit",
}

// LooksLikeGatewayInterstitial reports whether a response body appears to be
// the tunneling gateway's browser warning page rather than a service reply.
func LooksLikeGatewayInterstitial(body string) bool {
	for _, marker := range gatewayMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// classifyHTTP maps a received HTTP response to its terminal outcome.
// Transport-level failures never reach here; the client classifies those.
func classifyHTTP(baseURL string, status int, header http.Header, body []byte, diag *domain.RequestDiagnostics) Outcome {
	if status < 200 || status > 299 {
		if LooksLikeGatewayInterstitial(string(body)) {
			return Outcome{
				Kind:            OutcomeHTTPError,
				Message:         gatewayBypassMessage(baseURL),
				GatewayAdvisory: true,
				Diagnostics:     diag,
			}
		}

		return Outcome{
			Kind:        OutcomeHTTPError,
			Message:     fmt.Sprintf("transcription service returned status %d: %s", status, truncate(decodeErrorDetail(header.Get("Content-Type"), body), 300)),
			Diagnostics: diag,
		}
	}

	var payload transcriptPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Outcome{
			Kind:        OutcomeBadPayload,
			Message:     "invalid response format: the service did not return JSON",
			Diagnostics: diag,
		}
	}

	// Whitespace-only fields count as absent, but an accepted transcript is
	// passed through verbatim.
	if strings.TrimSpace(payload.Transcript) != "" {
		return Outcome{Kind: OutcomeSuccess, Transcript: payload.Transcript}
	}
	if strings.TrimSpace(payload.Text) != "" {
		return Outcome{Kind: OutcomeSuccess, Transcript: payload.Text}
	}

	return Outcome{
		Kind:        OutcomeNoTranscript,
		Message:     "no transcript received: the service reply had no transcript or text field",
		Diagnostics: diag,
	}
}

// gatewayBypassMessage instructs the user to approve the interstitial once.
func gatewayBypassMessage(baseURL string) string {
	return fmt.Sprintf("the upstream gateway needs a manual bypass: open %s in a browser once, approve the warning page, then retry", baseURL)
}

// decodeErrorDetail extracts a readable detail string from an error body.
// JSON objects commonly wrap the detail in an error, detail, or message
// field; anything else is surfaced as opaque text.
func decodeErrorDetail(contentType string, body []byte) string {
	raw := strings.TrimSpace(string(body))
	if !strings.Contains(contentType, "application/json") {
		return raw
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return raw
	}

	for _, key := range []string{"error", "detail", "message"} {
		if value, ok := decoded[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return raw
}

// truncate bounds error detail length for user-facing messages, cutting on
// a rune boundary so multi-byte characters are never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
