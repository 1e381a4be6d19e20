package provider

import (
	"bytes"
	"context"
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

const defaultAssemblyAIBaseURL = "https://api.assemblyai.com/v2"

// The provider's flat text field is known to sometimes carry this
// placeholder instead of real content; treat it as absent.
const assemblyAIPlaceholderText = "AssemblyAI support pending update to JSON schema"

// Word boost lists are capped by the provider.
const (
	maxWordBoostTerms      = 100
	maxWordBoostTermLength = 50
)

// AssemblyAITranscriber runs the three-phase AssemblyAI protocol: raw-body
// upload, job submission, then fixed-interval status polling. Upload covers
// 0-30% of reported progress, polling advances toward 99%, and 100% is
// only reported once the job actually completes.
type AssemblyAITranscriber struct {
	baseURL         string
	apiKey          string
	pollInterval    time.Duration
	pollMaxAttempts int
	httpClient      *http.Client
	breaker         *resilience.CircuitBreaker
	logger          zerolog.Logger
}

// NewAssemblyAITranscriber creates an AssemblyAI adapter from service
// configuration.
func NewAssemblyAITranscriber(cfg *config.Config) *AssemblyAITranscriber {
	return &AssemblyAITranscriber{
		baseURL:         defaultAssemblyAIBaseURL,
		apiKey:          cfg.AssemblyAIAPIKey,
		pollInterval:    time.Duration(cfg.AssemblyAIPollIntervalMs) * time.Millisecond,
		pollMaxAttempts: cfg.AssemblyAIPollMaxAttempts,
		httpClient:      &http.Client{Timeout: time.Duration(cfg.ProviderTimeoutSeconds) * time.Second},
		breaker: resilience.NewCircuitBreaker("assemblyai",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		logger: observability.GetLogger().With().Str("provider", "assemblyai").Logger(),
	}
}

func (a *AssemblyAITranscriber) Name() string {
	return string(transcript.ProviderAssemblyAI)
}

// Transcribe uploads the media, submits a transcription job and polls it
// to completion.
func (a *AssemblyAITranscriber) Transcribe(ctx context.Context, media Media, opts Options, progress ProgressFunc) (*transcript.Result, error) {
	apiKey := opts.AssemblyAIAPIKey
	if apiKey == "" {
		apiKey = a.apiKey
	}
	if apiKey == "" {
		return nil, &ConfigError{Field: "ASSEMBLYAI_API_KEY"}
	}

	audioURL, err := a.upload(ctx, apiKey, media, progress)
	if err != nil {
		return nil, err
	}

	jobID, err := a.submit(ctx, apiKey, audioURL, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("transcript_id", jobID).Msg("transcription job submitted")

	payload, err := a.pollUntilDone(ctx, apiKey, jobID, progress)
	if err != nil {
		return nil, err
	}

	result := mapAssemblyAIResult(payload)
	progress.report(100)
	return result, nil
}

// upload sends the raw media bytes and returns the opaque audio URL.
// Byte progress maps onto the 0-30% range; upload is the cheap, observable
// part of the pipeline.
func (a *AssemblyAITranscriber) upload(ctx context.Context, apiKey string, media Media, progress ProgressFunc) (string, error) {
	body := &progressReader{
		r:      bytes.NewReader(media.Data),
		total:  media.Size(),
		report: scaled(progress, 0, 30),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/upload", body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = media.Size()
	req.Header.Set("authorization", apiKey)
	req.Header.Set("content-type", "application/octet-stream")

	var audioURL string
	err = a.breaker.Call(func() error {
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return a.providerError(resp)
		}

		var payload struct {
			UploadURL string `json:"upload_url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to parse upload response: %w", err)
		}
		if payload.UploadURL == "" {
			return &ProviderError{
				Provider: transcript.ProviderAssemblyAI,
				Message:  "upload response missing upload_url",
			}
		}
		audioURL = payload.UploadURL
		return nil
	})
	observability.UpdateCircuitBreakerState(a.Name(), int(a.breaker.GetState()))
	if err != nil {
		return "", err
	}
	observability.AddUploadBytes(a.Name(), media.Size())
	return audioURL, nil
}

// submit creates the transcription job. Speaker labels and formatting are
// always requested; verbatim disfluencies are gated on legal mode.
func (a *AssemblyAITranscriber) submit(ctx context.Context, apiKey, audioURL string, opts Options) (string, error) {
	reqBody := assemblyAISubmitRequest{
		AudioURL:      audioURL,
		SpeakerLabels: true,
		Punctuate:     true,
		FormatText:    true,
		Disfluencies:  opts.LegalMode,
		SpeechModel:   "best",
		WordBoost:     sanitizeWordBoost(opts.CustomVocabulary),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create transcript request: %w", err)
	}
	req.Header.Set("authorization", apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", a.providerError(resp)
	}

	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to parse transcript response: %w", err)
	}
	if payload.ID == "" {
		return "", &ProviderError{
			Provider: transcript.ProviderAssemblyAI,
			Message:  "transcript submission returned no job id",
		}
	}
	return payload.ID, nil
}

// pollUntilDone checks job status at a fixed interval, advancing progress
// linearly from 30 toward 99 by attempt count.
func (a *AssemblyAITranscriber) pollUntilDone(ctx context.Context, apiKey, jobID string, progress ProgressFunc) (*assemblyAITranscript, error) {
	var final *assemblyAITranscript

	pollCfg := resilience.PollConfig{
		InitialInterval: a.pollInterval,
		MaxAttempts:     a.pollMaxAttempts,
	}
	err := resilience.Poll(ctx, pollCfg, func(attempt int) (bool, error) {
		observability.IncPollAttempt(a.Name())
		pct := 30 + 69*float64(attempt)/float64(a.pollMaxAttempts)
		if pct > 99 {
			pct = 99
		}
		progress.report(pct)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/transcript/%s", a.baseURL, jobID), nil)
		if err != nil {
			return false, fmt.Errorf("failed to create status request: %w", err)
		}
		req.Header.Set("authorization", apiKey)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("status request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return false, a.providerError(resp)
		}

		var payload assemblyAITranscript
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return false, fmt.Errorf("failed to parse status response: %w", err)
		}

		switch payload.Status {
		case "completed":
			final = &payload
			return true, nil
		case "error":
			msg := payload.Error
			if msg == "" {
				msg = "transcription failed"
			}
			return false, &ProviderError{Provider: transcript.ProviderAssemblyAI, Message: msg}
		default:
			// queued or processing
			a.logger.Debug().Str("status", payload.Status).Int("attempt", attempt).Msg("job still processing")
			return false, nil
		}
	})

	if errors.Is(err, resilience.ErrPollLimit) {
		return nil, &TimeoutError{Provider: transcript.ProviderAssemblyAI, Attempts: a.pollMaxAttempts}
	}
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (a *AssemblyAITranscriber) providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := string(raw)
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	return &ProviderError{
		Provider:   transcript.ProviderAssemblyAI,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(message),
	}
}

// mapAssemblyAIResult converts a completed transcript payload into the
// canonical result. Pure function: identical input yields identical output.
//
// Utterances (already speaker-grouped) are preferred; the word list is the
// fallback, coalescing consecutive words that share a (possibly inherited)
// speaker label. When segments exist, the flattened text is derived from
// them, overriding the provider's flat text field.
func mapAssemblyAIResult(payload *assemblyAITranscript) *transcript.Result {
	result := &transcript.Result{
		DetectedLanguage: payload.LanguageCode,
		ProviderUsed:     transcript.ProviderAssemblyAI,
	}

	segments := mapUtterances(payload.Utterances)
	if len(segments) == 0 {
		segments = coalesceWords(payload.Words)
	}

	if len(segments) > 0 {
		result.Segments = segments
		result.Text = transcript.FlattenSegments(segments)
		return result
	}

	text := strings.TrimSpace(payload.Text)
	if strings.EqualFold(text, assemblyAIPlaceholderText) {
		text = ""
	}
	result.Text = text
	return result
}

// mapUtterances converts the utterance list, assigning sequential fallback
// labels to utterances the provider left unlabeled.
func mapUtterances(utterances []assemblyAIUtterance) []transcript.Segment {
	var segments []transcript.Segment
	fallback := 0
	for _, u := range utterances {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		label := speakerLabel(u.Speaker)
		if label == "" {
			fallback++
			label = fmt.Sprintf("Speaker %d", fallback)
		}
		segments = append(segments, transcript.Segment{
			Start:   msToSeconds(u.Start),
			End:     msToSeconds(u.End),
			Speaker: label,
			Text:    text,
		})
	}
	return segments
}

// coalesceWords groups consecutive words sharing a speaker label into
// synthetic segments. Unlabeled words inherit the previous label; a fresh
// fallback label is only minted when no prior label exists.
func coalesceWords(words []assemblyAIWord) []transcript.Segment {
	var segments []transcript.Segment
	var cur *transcript.Segment
	currentLabel := ""
	fallback := 0

	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			text = strings.TrimSpace(w.Word)
		}
		if text == "" {
			continue
		}

		label := currentLabel
		if w.Speaker != "" {
			label = speakerLabel(w.Speaker)
		} else if label == "" {
			fallback++
			label = fmt.Sprintf("Speaker %d", fallback)
		}

		if cur == nil || label != cur.Speaker {
			if cur != nil {
				segments = append(segments, *cur)
			}
			cur = &transcript.Segment{
				Start:   msToSeconds(w.Start),
				End:     msToSeconds(w.End),
				Speaker: label,
				Text:    text,
			}
		} else {
			cur.Text += " " + text
			cur.End = msToSeconds(w.End)
		}
		currentLabel = label
	}

	if cur != nil {
		segments = append(segments, *cur)
	}
	return segments
}

// speakerLabel normalizes a provider speaker value ("A", "2") into a
// display label, preserving values that already are one.
func speakerLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(s), "speaker") {
		return s
	}
	return "Speaker " + s
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000.0
}

// sanitizeWordBoost trims and bounds the vocabulary list to the provider's
// limits.
func sanitizeWordBoost(vocabulary []string) []string {
	var terms []string
	for _, term := range vocabulary {
		trimmed := strings.TrimSpace(term)
		if trimmed == "" || len(trimmed) > maxWordBoostTermLength {
			continue
		}
		terms = append(terms, trimmed)
		if len(terms) >= maxWordBoostTerms {
			break
		}
	}
	return terms
}

// Wire types for the AssemblyAI API.

type assemblyAISubmitRequest struct {
	AudioURL      string   `json:"audio_url"`
	SpeakerLabels bool     `json:"speaker_labels"`
	Punctuate     bool     `json:"punctuate"`
	FormatText    bool     `json:"format_text"`
	Disfluencies  bool     `json:"disfluencies,omitempty"`
	SpeechModel   string   `json:"speech_model,omitempty"`
	WordBoost     []string `json:"word_boost,omitempty"`
}

type assemblyAITranscript struct {
	ID           string                `json:"id"`
	Status       string                `json:"status"`
	Text         string                `json:"text"`
	LanguageCode string                `json:"language_code"`
	Error        string                `json:"error"`
	Utterances   []assemblyAIUtterance `json:"utterances"`
	Words        []assemblyAIWord      `json:"words"`
}

type assemblyAIUtterance struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type assemblyAIWord struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Text    string `json:"text"`
	Word    string `json:"word"`
	Speaker string `json:"speaker"`
}
