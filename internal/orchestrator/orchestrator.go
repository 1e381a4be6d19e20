// Package orchestrator dispatches transcription requests to the configured
// provider adapter. It owns no protocol knowledge: input validation,
// registry lookup, progress clamping and metrics live here, everything
// wire-level lives in the adapters.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/config"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/provider"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

// ErrJobInProgress is returned when a transcription is requested while
// another one is running. Jobs are deliberately serialized: parallel
// uploads contend for memory and provider rate limits.
var ErrJobInProgress = errors.New("a transcription job is already running")

// Orchestrator routes requests to provider adapters.
type Orchestrator struct {
	cfg      *config.Config
	registry map[transcript.Provider]provider.Transcriber
	fallback provider.Transcriber
	logger   zerolog.Logger

	busy chan struct{}
}

// New builds an orchestrator with the three standard adapters registered.
func New(cfg *config.Config) *Orchestrator {
	gemini := provider.NewGeminiTranscriber(cfg)
	return newWithAdapters(cfg, map[transcript.Provider]provider.Transcriber{
		transcript.ProviderGemini:     gemini,
		transcript.ProviderOpenAI:     provider.NewOpenAITranscriber(cfg),
		transcript.ProviderAssemblyAI: provider.NewAssemblyAITranscriber(cfg),
	}, gemini)
}

func newWithAdapters(cfg *config.Config, registry map[transcript.Provider]provider.Transcriber, fallback provider.Transcriber) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		fallback: fallback,
		logger:   observability.GetLogger().With().Str("component", "orchestrator").Logger(),
		busy:     make(chan struct{}, 1),
	}
}

// TranscribeAudio validates the request, selects the adapter and runs the
// transcription pipeline. Unrecognized provider values fall back to the
// Gemini adapter. Returns ErrJobInProgress when another job holds the
// single-flight guard.
func (o *Orchestrator) TranscribeAudio(ctx context.Context, media provider.Media, opts provider.Options, progress provider.ProgressFunc) (*transcript.Result, error) {
	select {
	case o.busy <- struct{}{}:
		defer func() { <-o.busy }()
	default:
		return nil, ErrJobInProgress
	}
	return o.run(ctx, media, opts, progress)
}

func (o *Orchestrator) run(ctx context.Context, media provider.Media, opts provider.Options, progress provider.ProgressFunc) (*transcript.Result, error) {
	logger := observability.WithRequestID(observability.NewRequestID()).With().
		Str("component", "orchestrator").
		Str("provider", string(opts.Provider)).
		Int64("media_bytes", media.Size()).
		Logger()

	adapter, known := o.registry[opts.Provider]
	if !known {
		logger.Warn().Msg("unrecognized provider, falling back to gemini")
		adapter = o.fallback
		opts.Provider = transcript.ProviderGemini
	}

	if err := o.validateCredential(opts); err != nil {
		logger.Error().Err(err).Msg("credential validation failed")
		observability.RecordError("config", "orchestrator")
		return nil, err
	}

	observability.JobStarted()
	start := time.Now()
	logger.Info().Msg("transcription started")

	result, err := adapter.Transcribe(ctx, media, opts, provider.MonotonicProgress(progress))

	elapsed := time.Since(start)
	if err != nil {
		observability.JobFinished(adapter.Name(), "error", elapsed.Seconds())
		observability.RecordError(errorType(err), "orchestrator")
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("transcription failed")
		return nil, err
	}

	observability.JobFinished(adapter.Name(), "success", elapsed.Seconds())
	logger.Info().
		Dur("elapsed", elapsed).
		Int("segments", len(result.Segments)).
		Msg("transcription completed")
	return result, nil
}

// validateCredential checks that a key is resolvable for the selected
// provider, from the per-call override or the environment default.
func (o *Orchestrator) validateCredential(opts provider.Options) error {
	switch opts.Provider {
	case transcript.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" && o.cfg.OpenAIAPIKey == "" {
			return &provider.ConfigError{Field: "OPENAI_API_KEY"}
		}
	case transcript.ProviderAssemblyAI:
		if opts.AssemblyAIAPIKey == "" && o.cfg.AssemblyAIAPIKey == "" {
			return &provider.ConfigError{Field: "ASSEMBLYAI_API_KEY"}
		}
	default:
		if opts.GeminiAPIKey == "" && o.cfg.GeminiAPIKey == "" {
			return &provider.ConfigError{Field: "GEMINI_API_KEY"}
		}
	}
	return nil
}

// BatchItem is one queued media file.
type BatchItem struct {
	Name  string
	Media provider.Media
}

// BatchResult pairs an item with its outcome.
type BatchResult struct {
	Name   string
	Result *transcript.Result
	Err    error
}

// BatchProgressFunc reports per-item progress by batch index.
type BatchProgressFunc func(index int, percent float64)

// TranscribeBatch processes queued items one at a time. One item's failure
// never aborts its siblings; context cancellation stops the remainder and
// marks them with the context error.
func (o *Orchestrator) TranscribeBatch(ctx context.Context, items []BatchItem, opts provider.Options, progress BatchProgressFunc) []BatchResult {
	results := make([]BatchResult, 0, len(items))
	for i, item := range items {
		if ctx.Err() != nil {
			results = append(results, BatchResult{Name: item.Name, Err: ctx.Err()})
			continue
		}

		var itemProgress provider.ProgressFunc
		if progress != nil {
			index := i
			itemProgress = func(percent float64) { progress(index, percent) }
		}

		res, err := o.TranscribeAudio(ctx, item.Media, opts, itemProgress)
		if err != nil {
			o.logger.Warn().Err(err).Str("item", item.Name).Msg("batch item failed, continuing")
		}
		results = append(results, BatchResult{Name: item.Name, Result: res, Err: err})
	}
	return results
}

// errorType maps an error onto the taxonomy label used in metrics.
func errorType(err error) string {
	var cfgErr *provider.ConfigError
	var provErr *provider.ProviderError
	var procErr *provider.ProcessingError
	var timeoutErr *provider.TimeoutError
	switch {
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &provErr):
		return "provider"
	case errors.As(err, &procErr):
		return "processing"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
