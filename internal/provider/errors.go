package provider

import (
	"fmt"

	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

// ConfigError reports a missing or invalid credential. Never retried;
// surfaced immediately with the offending field name.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required credential: %s", e.Field)
}

// ProviderError reports a non-2xx HTTP response or an explicit error status
// from a provider, carrying the provider's own message when available.
type ProviderError struct {
	Provider   transcript.Provider
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: provider returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

// ProcessingError reports a provider-side asynchronous job that reached a
// terminal failure state.
type ProcessingError struct {
	Provider transcript.Provider
	State    string
	Message  string
}

func (e *ProcessingError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "provider reported a terminal failure"
	}
	return fmt.Sprintf("%s: processing failed (state %s): %s", e.Provider, e.State, msg)
}

// TimeoutError reports a polling loop that exhausted its attempt bound
// without the provider job completing.
type TimeoutError struct {
	Provider transcript.Provider
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: gave up waiting after %d status checks; the media may be too long, try a shorter clip", e.Provider, e.Attempts)
}
