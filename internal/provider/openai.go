package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/config"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/resilience"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAITranscriber transcribes media through the Whisper transcription
// endpoint: one synchronous multipart call, flat text back. No chunking,
// no polling; the provider's own size limits are not enforced client-side.
type OpenAITranscriber struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewOpenAITranscriber creates an OpenAI adapter from service configuration.
func NewOpenAITranscriber(cfg *config.Config) *OpenAITranscriber {
	return &OpenAITranscriber{
		baseURL:    defaultOpenAIBaseURL,
		apiKey:     cfg.OpenAIAPIKey,
		model:      cfg.OpenAIModel,
		httpClient: &http.Client{Timeout: time.Duration(cfg.ProviderTimeoutSeconds) * time.Second},
		breaker: resilience.NewCircuitBreaker("openai",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		logger: observability.GetLogger().With().Str("provider", "openai").Logger(),
	}
}

func (o *OpenAITranscriber) Name() string {
	return string(transcript.ProviderOpenAI)
}

// Transcribe uploads the media as a multipart form and returns the flat
// transcript text. This endpoint produces no speaker or timing data.
func (o *OpenAITranscriber) Transcribe(ctx context.Context, media Media, opts Options, progress ProgressFunc) (*transcript.Result, error) {
	apiKey := opts.OpenAIAPIKey
	if apiKey == "" {
		apiKey = o.apiKey
	}
	if apiKey == "" {
		return nil, &ConfigError{Field: "OPENAI_API_KEY"}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if opts.LegalMode {
		// The endpoint accepts a free-text style hint.
		if err := mw.WriteField("prompt", "Transcribe verbatim, preserving filler words, stutters and false starts."); err != nil {
			return nil, fmt.Errorf("failed to write prompt field: %w", err)
		}
	}
	filename := media.Filename
	if filename == "" {
		filename = "audio"
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file field: %w", err)
	}
	if _, err := fw.Write(media.Data); err != nil {
		return nil, fmt.Errorf("failed to write media bytes: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var text string
	err = o.breaker.Call(func() error {
		resp, err := o.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("transcription request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return o.providerError(resp)
		}

		var payload struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to parse transcription response: %w", err)
		}
		text = strings.TrimSpace(payload.Text)
		return nil
	})
	observability.UpdateCircuitBreakerState(o.Name(), int(o.breaker.GetState()))
	if err != nil {
		return nil, err
	}
	observability.AddUploadBytes(o.Name(), media.Size())

	progress.report(100)
	return &transcript.Result{
		Text:         text,
		ProviderUsed: transcript.ProviderOpenAI,
	}, nil
}

func (o *OpenAITranscriber) providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := string(raw)
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		message = payload.Error.Message
	}
	return &ProviderError{
		Provider:   transcript.ProviderOpenAI,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(message),
	}
}
