package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/provider"
	"github.com/lexterra/transcribe-gateway/internal/resilience"
)

func newTestClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "gemini-2.0-flash",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		retryCfg: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
		logger: zerolog.Nop(),
	}
}

func candidateJSON(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
}

func TestSummarize(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		prompt = string(raw)
		fmt.Fprint(w, candidateJSON("A short summary."))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Summarize(context.Background(), "long transcript body")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if got != "A short summary." {
		t.Errorf("Summarize = %q", got)
	}
	if !strings.Contains(prompt, "long transcript body") {
		t.Error("expected transcript embedded in prompt")
	}
}

func TestTranslate(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		prompt = string(raw)
		fmt.Fprint(w, candidateJSON("Hola."))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Translate(context.Background(), "Hello.", "Spanish")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "Hola." {
		t.Errorf("Translate = %q", got)
	}
	if !strings.Contains(prompt, "Spanish") {
		t.Error("expected target language in prompt")
	}
}

func TestGenerate_ProviderErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"forbidden"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Summarize(context.Background(), "text")

	var provErr *provider.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable provider error retried %d times", calls)
	}
}

func TestGenerate_MissingKey(t *testing.T) {
	c := newTestClient("http://unused")
	c.apiKey = ""

	_, err := c.Summarize(context.Background(), "text")
	var cfgErr *provider.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
