package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/config"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/resilience"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiTranscriber transcribes media through the Gemini generateContent
// API. Payloads at or below the inline limit are sent as base64 inline
// data; larger payloads go through the resumable upload protocol and a
// file-activation polling loop before generation.
type GeminiTranscriber struct {
	baseURL     string
	apiKey      string // environment default, overridable per call
	model       string
	legalModel  string
	inlineLimit int64
	pollCfg     resilience.PollConfig
	httpClient  *http.Client
	breaker     *resilience.CircuitBreaker
	logger      zerolog.Logger
}

// NewGeminiTranscriber creates a Gemini adapter from service configuration.
func NewGeminiTranscriber(cfg *config.Config) *GeminiTranscriber {
	return &GeminiTranscriber{
		baseURL:     defaultGeminiBaseURL,
		apiKey:      cfg.GeminiAPIKey,
		model:       cfg.GeminiModel,
		legalModel:  cfg.GeminiLegalModel,
		inlineLimit: cfg.GeminiInlineLimitBytes,
		pollCfg: resilience.PollConfig{
			InitialInterval: time.Duration(cfg.GeminiPollInitialMs) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.GeminiPollMaxIntervalMs) * time.Millisecond,
			Multiplier:      1.5,
			MaxAttempts:     cfg.GeminiPollMaxAttempts,
		},
		httpClient: &http.Client{Timeout: time.Duration(cfg.ProviderTimeoutSeconds) * time.Second},
		breaker: resilience.NewCircuitBreaker("gemini",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		logger: observability.GetLogger().With().Str("provider", "gemini").Logger(),
	}
}

func (g *GeminiTranscriber) Name() string {
	return string(transcript.ProviderGemini)
}

// Transcribe runs the full Gemini pipeline: optional resumable upload,
// file activation wait, then a single generation call requesting a JSON
// segment array.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, media Media, opts Options, progress ProgressFunc) (*transcript.Result, error) {
	apiKey := opts.GeminiAPIKey
	if apiKey == "" {
		apiKey = g.apiKey
	}
	if apiKey == "" {
		return nil, &ConfigError{Field: "GEMINI_API_KEY"}
	}

	model := g.model
	if opts.LegalMode {
		model = g.legalModel
	}
	prompt := buildGeminiPrompt(opts)

	var mediaPart geminiPart
	if media.Size() <= g.inlineLimit {
		g.logger.Debug().Int64("size", media.Size()).Msg("using inline upload path")
		mediaPart = geminiPart{InlineData: &geminiInlineData{
			MimeType: media.MimeType,
			Data:     base64.StdEncoding.EncodeToString(media.Data),
		}}
	} else {
		g.logger.Info().Int64("size", media.Size()).Msg("payload exceeds inline limit, using resumable upload")
		fileURI, err := g.uploadFile(ctx, apiKey, media, progress)
		if err != nil {
			return nil, err
		}
		mediaPart = geminiPart{FileData: &geminiFileData{
			MimeType: media.MimeType,
			FileURI:  fileURI,
		}}
	}

	raw, err := g.generate(ctx, apiKey, model, prompt, mediaPart)
	if err != nil {
		return nil, err
	}

	result := &transcript.Result{ProviderUsed: transcript.ProviderGemini}
	if segments, ok := parseGeminiSegments(raw); ok {
		// An empty array is a valid answer (silent media), not a parse
		// failure: the transcript is simply empty.
		if len(segments) > 0 {
			result.Segments = segments
			result.Text = transcript.FlattenSegments(segments)
		}
	} else {
		// Malformed JSON from the model is a soft contract violation, not
		// a protocol error: degrade to the raw text rather than failing.
		g.logger.Warn().Msg("response was not a parseable segment array, returning plain text")
		result.Text = strings.TrimSpace(stripCodeFence(raw))
	}

	progress.report(100)
	return result, nil
}

// uploadFile performs the resumable upload protocol and waits for the file
// to become ACTIVE. Returns the file URI to reference in generation.
func (g *GeminiTranscriber) uploadFile(ctx context.Context, apiKey string, media Media, progress ProgressFunc) (string, error) {
	uploadURL, err := g.startResumableUpload(ctx, apiKey, media)
	if err != nil {
		return "", err
	}

	file, err := g.transferBytes(ctx, uploadURL, media, progress)
	if err != nil {
		return "", err
	}
	observability.AddUploadBytes(g.Name(), media.Size())

	if err := g.waitForActivation(ctx, apiKey, file, progress); err != nil {
		return "", err
	}
	return file.URI, nil
}

// startResumableUpload negotiates an upload session. The session URL comes
// back in a response header, not the body.
func (g *GeminiTranscriber) startResumableUpload(ctx context.Context, apiKey string, media Media) (string, error) {
	displayName := media.Filename
	if displayName == "" {
		displayName = "media"
	}
	body, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": displayName},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/upload/v1beta/files?key=%s", g.baseURL, apiKey), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create upload start request: %w", err)
	}
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", media.Size()))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", media.MimeType)
	req.Header.Set("Content-Type", "application/json")

	var uploadURL string
	err = g.breaker.Call(func() error {
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload start request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return g.providerError(resp)
		}
		uploadURL = resp.Header.Get("X-Goog-Upload-URL")
		if uploadURL == "" {
			return &ProviderError{
				Provider: transcript.ProviderGemini,
				Message:  "upload session response missing X-Goog-Upload-URL header",
			}
		}
		return nil
	})
	observability.UpdateCircuitBreakerState(g.Name(), int(g.breaker.GetState()))
	return uploadURL, err
}

// transferBytes streams the payload to the session URL in a single
// finalizing write, reporting fractional byte progress.
func (g *GeminiTranscriber) transferBytes(ctx context.Context, uploadURL string, media Media, progress ProgressFunc) (*geminiFile, error) {
	body := &progressReader{
		r:      bytes.NewReader(media.Data),
		total:  media.Size(),
		report: scaled(progress, 0, 70),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload transfer request: %w", err)
	}
	req.ContentLength = media.Size()
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload transfer failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, g.providerError(resp)
	}

	var payload struct {
		File geminiFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if payload.File.Name == "" {
		return nil, &ProviderError{
			Provider: transcript.ProviderGemini,
			Message:  "upload response missing file handle",
		}
	}
	return &payload.File, nil
}

// waitForActivation polls the file status endpoint with multiplicative
// backoff until the handle reaches ACTIVE, the provider reports FAILED, or
// the attempt bound is exhausted.
func (g *GeminiTranscriber) waitForActivation(ctx context.Context, apiKey string, file *geminiFile, progress ProgressFunc) error {
	if file.State == "ACTIVE" {
		return nil
	}

	maxAttempts := g.pollCfg.MaxAttempts
	err := resilience.Poll(ctx, g.pollCfg, func(attempt int) (bool, error) {
		observability.IncPollAttempt(g.Name())
		progress.report(70 + 20*float64(attempt)/float64(maxAttempts))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/v1beta/%s?key=%s", g.baseURL, file.Name, apiKey), nil)
		if err != nil {
			return false, fmt.Errorf("failed to create file status request: %w", err)
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("file status request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return false, g.providerError(resp)
		}

		var status geminiFile
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false, fmt.Errorf("failed to parse file status: %w", err)
		}

		switch status.State {
		case "ACTIVE":
			if status.URI != "" {
				file.URI = status.URI
			}
			return true, nil
		case "FAILED":
			return false, &ProcessingError{
				Provider: transcript.ProviderGemini,
				State:    status.State,
				Message:  "uploaded file failed server-side processing",
			}
		default:
			g.logger.Debug().Str("state", status.State).Int("attempt", attempt).Msg("file not active yet")
			return false, nil
		}
	})

	if errors.Is(err, resilience.ErrPollLimit) {
		return &TimeoutError{Provider: transcript.ProviderGemini, Attempts: maxAttempts}
	}
	return err
}

// generate issues the generateContent call with the instruction prompt and
// either inline bytes or a file reference.
func (g *GeminiTranscriber) generate(ctx context.Context, apiKey, model, prompt string, mediaPart geminiPart) (string, error) {
	reqBody := geminiGenerateRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: prompt}, mediaPart},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseMimeType: "application/json"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, model, apiKey),
		bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var text string
	err = g.breaker.Call(func() error {
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("generation request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return g.providerError(resp)
		}

		var payload geminiGenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to parse generation response: %w", err)
		}
		if len(payload.Candidates) == 0 {
			return &ProviderError{
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
		text = strings.Join(parts, "")
		return nil
	})
	observability.UpdateCircuitBreakerState(g.Name(), int(g.breaker.GetState()))
	return text, err
}

// providerError builds a ProviderError from a non-2xx response, preferring
// the provider's own error message.
func (g *GeminiTranscriber) providerError(resp *http.Response) error {
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
		Provider:   transcript.ProviderGemini,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(message),
	}
}

// buildGeminiPrompt embeds the vocabulary hints, the legal-mode verbatim
// directive, and the strict output-format directive.
func buildGeminiPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString("Transcribe the attached recording.")
	if opts.LegalMode {
		b.WriteString(" Produce a verbatim transcript: preserve every disfluency, filler word, stutter and false start exactly as spoken.")
		b.WriteString(" Attribute every segment to its speaker.")
	} else {
		b.WriteString(" Lightly clean the text for readability while preserving meaning.")
	}
	if len(opts.CustomVocabulary) > 0 {
		b.WriteString(" Pay special attention to these domain terms, which are likely to occur: ")
		b.WriteString(strings.Join(opts.CustomVocabulary, ", "))
		b.WriteString(".")
	}
	b.WriteString(" Respond with a raw JSON array of objects, each with keys \"start\", \"end\", \"speaker\" and \"text\".")
	b.WriteString(" \"start\" and \"end\" are seconds from the beginning of the recording as numbers.")
	b.WriteString(" Do not wrap the response in Markdown code fences and do not add any commentary.")
	return b.String()
}

// parseGeminiSegments strips any Markdown fence wrapper and attempts to
// parse a JSON segment array. ok=false means the caller should fall back
// to plain text.
func parseGeminiSegments(raw string) ([]transcript.Segment, bool) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, false
	}

	var segments []transcript.Segment
	if err := json.Unmarshal([]byte(cleaned), &segments); err != nil {
		return nil, false
	}

	out := segments[:0]
	for _, seg := range segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" {
			continue
		}
		out = append(out, seg)
	}
	return out, true
}

// stripCodeFence removes a surrounding ```...``` block, tolerating a
// language tag on the opening fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Wire types for the Gemini API.

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}
