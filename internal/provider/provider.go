// Package provider contains the adapters that normalize the three external
// transcription APIs (Gemini, OpenAI Whisper, AssemblyAI) into one result
// shape.
package provider

import (
	"context"
	"io"
	"sync"

	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

// Media is the payload handed to an adapter. Normalization (if any) has
// already happened upstream.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
}

// Size returns the payload size in bytes.
func (m Media) Size() int64 {
	return int64(len(m.Data))
}

// Options is the caller-supplied configuration for one transcription call.
// Per-provider API keys override the environment defaults when non-empty.
// Options is immutable for the duration of the call.
type Options struct {
	Provider         transcript.Provider
	GeminiAPIKey     string
	OpenAIAPIKey     string
	AssemblyAIAPIKey string
	LegalMode        bool
	CustomVocabulary []string
}

// ProgressFunc receives percent values in [0, 100]. Adapters report raw
// values; callers that need monotonic output wrap the sink with
// MonotonicProgress.
type ProgressFunc func(percent float64)

// report is a nil-safe invocation helper.
func (f ProgressFunc) report(percent float64) {
	if f != nil {
		f(percent)
	}
}

// Transcriber is the shared adapter contract. Implementations own their
// wire protocol entirely; callers see only the canonical result and the
// error taxonomy from errors.go.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, media Media, opts Options, progress ProgressFunc) (*transcript.Result, error)
}

// MonotonicProgress wraps a sink so reported values are clamped to [0, 100]
// and never decrease. Safe for concurrent use.
func MonotonicProgress(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	last := 0.0
	return func(percent float64) {
		mu.Lock()
		defer mu.Unlock()
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if percent < last {
			return
		}
		last = percent
		fn(percent)
	}
}

// scaled maps an upload fraction in [0, 1] onto the [lo, hi] percent range
// of the overall pipeline.
func scaled(progress ProgressFunc, lo, hi float64) func(fraction float64) {
	return func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		progress.report(lo + (hi-lo)*fraction)
	}
}

// progressReader reports fractional consumption of an upload body.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(fraction float64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.total > 0 && pr.report != nil {
		pr.read += int64(n)
		pr.report(float64(pr.read) / float64(pr.total))
	}
	return n, err
}
