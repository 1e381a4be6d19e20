// Package postprocess holds the secondary AI request/response adapter used
// by the result consumer: summarization and translation of a finished
// transcript. These are plain text-in/text-out Gemini calls with none of
// the upload machinery the transcription adapters need.
package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/config"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/provider"
	"github.com/lexterra/transcribe-gateway/internal/resilience"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client issues summarize/translate calls. Transient network failures are
// retried with backoff; these calls are cheap and idempotent, unlike the
// primary transcription pipeline.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	retryCfg   resilience.RetryConfig
	logger     zerolog.Logger
}

// NewClient creates a post-processing client from service configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     cfg.GeminiAPIKey,
		model:      cfg.GeminiModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retryCfg:   resilience.DefaultRetryConfig(),
		logger:     observability.GetLogger().With().Str("component", "postprocess").Logger(),
	}
}

// Summarize produces a concise summary of a transcript.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	prompt := "Summarize the following transcript in a few short paragraphs. " +
		"Keep key names, dates, amounts and commitments.\n\n" + text
	return c.generate(ctx, prompt)
}

// Translate renders a transcript into the target language, preserving
// speaker labels and line structure.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	prompt := fmt.Sprintf("Translate the following transcript into %s. "+
		"Preserve speaker labels and line breaks exactly.\n\n%s", targetLanguage, text)
	return c.generate(ctx, prompt)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", &provider.ConfigError{Field: "GEMINI_API_KEY"}
	}

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]string{{"text": prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	var text string
	err = resilience.Retry(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey),
			bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create generation request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("generation request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &provider.ProviderError{
				Provider:   transcript.ProviderGemini,
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(raw)),
			}
		}

		var payload struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to parse generation response: %w", err)
		}
		if len(payload.Candidates) == 0 {
			return &provider.ProviderError{
				Provider: transcript.ProviderGemini,
				Message:  "generation response contained no candidates",
			}
		}
		var parts []string
		for _, p := range payload.Candidates[0].Content.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		text = strings.TrimSpace(strings.Join(parts, ""))
		return nil
	}, resilience.IsRetryableNetworkError)

	return text, err
}
