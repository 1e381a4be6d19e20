package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/resilience"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

func newTestAssemblyAI(baseURL string, pollAttempts int) *AssemblyAITranscriber {
	return &AssemblyAITranscriber{
		baseURL:         baseURL,
		apiKey:          "test-key",
		pollInterval:    time.Millisecond,
		pollMaxAttempts: pollAttempts,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		breaker:         resilience.NewCircuitBreaker("assemblyai", 5, time.Minute),
		logger:          zerolog.Nop(),
	}
}

func TestMapAssemblyAIResult_TimestampConversion(t *testing.T) {
	payload := &assemblyAITranscript{
		Status: "completed",
		Utterances: []assemblyAIUtterance{
			{Start: 1200, End: 2400, Speaker: "A", Text: "Hello there."},
		},
	}

	res := mapAssemblyAIResult(payload)
	if len(res.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(res.Segments))
	}
	if res.Segments[0].Start != 1.2 || res.Segments[0].End != 2.4 {
		t.Errorf("expected [1.2, 2.4], got [%v, %v]", res.Segments[0].Start, res.Segments[0].End)
	}
}

func TestMapAssemblyAIResult_Idempotent(t *testing.T) {
	payload := &assemblyAITranscript{
		Status:       "completed",
		Text:         "raw text",
		LanguageCode: "en",
		Utterances: []assemblyAIUtterance{
			{Start: 0, End: 1000, Speaker: "A", Text: "One."},
			{Start: 1000, End: 2000, Speaker: "B", Text: "Two."},
		},
	}

	first := mapAssemblyAIResult(payload)
	second := mapAssemblyAIResult(payload)
	if !reflect.DeepEqual(first, second) {
		t.Error("mapping the same payload twice produced different results")
	}
}

func TestMapAssemblyAIResult_SegmentOrderingPreserved(t *testing.T) {
	payload := &assemblyAITranscript{
		Status: "completed",
		Utterances: []assemblyAIUtterance{
			{Start: 0, End: 500, Speaker: "A", Text: "First."},
			{Start: 500, End: 1500, Speaker: "B", Text: "Second."},
			{Start: 1500, End: 3000, Speaker: "A", Text: "Third."},
		},
	}

	res := mapAssemblyAIResult(payload)
	for i := 1; i < len(res.Segments); i++ {
		if res.Segments[i-1].Start > res.Segments[i].Start {
			t.Errorf("segments out of order at %d: %v > %v", i, res.Segments[i-1].Start, res.Segments[i].Start)
		}
	}
}

func TestMapAssemblyAIResult_SegmentPreferredFlattening(t *testing.T) {
	payload := &assemblyAITranscript{
		Status: "completed",
		Text:   "something else entirely",
		Utterances: []assemblyAIUtterance{
			{Start: 0, End: 1000, Speaker: "A", Text: "First line"},
			{Start: 1000, End: 2000, Speaker: "B", Text: "Second line"},
		},
	}

	res := mapAssemblyAIResult(payload)
	if res.Text != "First line Second line" {
		t.Errorf("expected segment-derived text, got %q", res.Text)
	}
}

func TestMapAssemblyAIResult_PlaceholderSuppressed(t *testing.T) {
	payload := &assemblyAITranscript{
		Status: "completed",
		Text:   "assemblyai SUPPORT pending update to json schema",
	}

	res := mapAssemblyAIResult(payload)
	if res.Text != "" {
		t.Errorf("expected placeholder text suppressed, got %q", res.Text)
	}
}

func TestMapAssemblyAIResult_UtterancesPreferredOverWords(t *testing.T) {
	payload := &assemblyAITranscript{
		Status: "completed",
		Utterances: []assemblyAIUtterance{
			{Start: 0, End: 1000, Speaker: "A", Text: "From utterances."},
		},
		Words: []assemblyAIWord{
			{Start: 0, End: 1000, Text: "From", Speaker: "A"},
			{Start: 1000, End: 2000, Text: "words.", Speaker: "A"},
		},
	}

	res := mapAssemblyAIResult(payload)
	if res.Text != "From utterances." {
		t.Errorf("expected utterance path, got %q", res.Text)
	}
}

func TestMapAssemblyAIResult_UnlabeledUtterancesGetSequentialSpeakers(t *testing.T) {
	payload := &assemblyAITranscript{
		Status: "completed",
		Utterances: []assemblyAIUtterance{
			{Start: 0, End: 1000, Text: "One."},
			{Start: 1000, End: 2000, Text: "Two."},
		},
	}

	res := mapAssemblyAIResult(payload)
	if res.Segments[0].Speaker != "Speaker 1" || res.Segments[1].Speaker != "Speaker 2" {
		t.Errorf("expected sequential fallback labels, got %q and %q",
			res.Segments[0].Speaker, res.Segments[1].Speaker)
	}
}

func TestCoalesceWords_FallbackSpeakerLabeling(t *testing.T) {
	words := []assemblyAIWord{
		{Start: 0, End: 300, Text: "Hello"},                  // no speaker: fallback Speaker 1
		{Start: 300, End: 600, Text: "there"},                // inherits Speaker 1
		{Start: 600, End: 900, Text: "counsel.", Speaker: "2"}, // explicit: Speaker 2
		{Start: 900, End: 1200, Text: "Proceed."},            // inherits Speaker 2, no new fallback
	}

	segments := coalesceWords(words)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segments), segments)
	}
	if segments[0].Speaker != "Speaker 1" {
		t.Errorf("first segment speaker = %q, want 'Speaker 1'", segments[0].Speaker)
	}
	if segments[0].Text != "Hello there" {
		t.Errorf("first segment text = %q, want 'Hello there'", segments[0].Text)
	}
	if segments[1].Speaker != "Speaker 2" {
		t.Errorf("second segment speaker = %q, want 'Speaker 2'", segments[1].Speaker)
	}
	if segments[1].Text != "counsel. Proceed." {
		t.Errorf("second segment text = %q, want 'counsel. Proceed.'", segments[1].Text)
	}
}

func TestCoalesceWords_PrefersPunctuatedForm(t *testing.T) {
	words := []assemblyAIWord{
		{Start: 0, End: 300, Text: "Hello,", Word: "hello", Speaker: "A"},
		{Start: 300, End: 600, Text: "", Word: "world", Speaker: "A"},
	}

	segments := coalesceWords(words)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text != "Hello, world" {
		t.Errorf("text = %q, want 'Hello, world'", segments[0].Text)
	}
}

func TestSanitizeWordBoost(t *testing.T) {
	vocab := []string{" habeas corpus ", "", strings.Repeat("x", 51), "voir dire"}
	got := sanitizeWordBoost(vocab)
	want := []string{"habeas corpus", "voir dire"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sanitizeWordBoost = %v, want %v", got, want)
	}
}

func TestAssemblyAI_FullPipeline(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	var submitBody assemblyAISubmitRequest
	polls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			calls = append(calls, "upload")
			if r.Header.Get("authorization") != "override-key" {
				t.Errorf("upload missing authorization header")
			}
			body, _ := io.ReadAll(r.Body)
			if len(body) == 0 {
				t.Error("upload body empty")
			}
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/upload/abc"})

		case r.Method == http.MethodPost && r.URL.Path == "/transcript":
			calls = append(calls, "submit")
			json.NewDecoder(r.Body).Decode(&submitBody)
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})

		case r.Method == http.MethodGet && r.URL.Path == "/transcript/job-1":
			calls = append(calls, "poll")
			polls++
			if polls < 2 {
				json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(assemblyAITranscript{
				ID:           "job-1",
				Status:       "completed",
				Text:         "ignored",
				LanguageCode: "en",
				Utterances: []assemblyAIUtterance{
					{Start: 0, End: 1200, Speaker: "A", Text: "First line"},
					{Start: 1200, End: 2400, Speaker: "B", Text: "Second line"},
				},
			})

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newTestAssemblyAI(srv.URL, 10)

	var progressValues []float64
	progress := func(p float64) { progressValues = append(progressValues, p) }

	res, err := a.Transcribe(context.Background(),
		Media{Data: []byte("fake audio bytes"), MimeType: "audio/wav"},
		Options{AssemblyAIAPIKey: "override-key", LegalMode: true, CustomVocabulary: []string{"voir dire"}},
		progress)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if res.ProviderUsed != transcript.ProviderAssemblyAI {
		t.Errorf("ProviderUsed = %v", res.ProviderUsed)
	}
	if res.Text != "First line Second line" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.DetectedLanguage != "en" {
		t.Errorf("DetectedLanguage = %q", res.DetectedLanguage)
	}

	if !submitBody.SpeakerLabels || !submitBody.Punctuate || !submitBody.FormatText {
		t.Errorf("expected speaker_labels/punctuate/format_text requested: %+v", submitBody)
	}
	if !submitBody.Disfluencies {
		t.Error("expected disfluencies requested in legal mode")
	}
	if len(submitBody.WordBoost) != 1 || submitBody.WordBoost[0] != "voir dire" {
		t.Errorf("word_boost = %v", submitBody.WordBoost)
	}
	if submitBody.AudioURL != "https://cdn.example/upload/abc" {
		t.Errorf("audio_url = %q", submitBody.AudioURL)
	}

	if len(calls) < 3 || calls[0] != "upload" || calls[1] != "submit" {
		t.Errorf("unexpected call sequence: %v", calls)
	}

	if len(progressValues) == 0 || progressValues[len(progressValues)-1] != 100 {
		t.Errorf("expected final progress 100, got %v", progressValues)
	}
}

func TestAssemblyAI_PollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload":
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/u"})
		case r.Method == http.MethodPost && r.URL.Path == "/transcript":
			json.NewEncoder(w).Encode(map[string]string{"id": "stuck", "status": "queued"})
		default:
			// Never leaves processing.
			json.NewEncoder(w).Encode(map[string]string{"id": "stuck", "status": "processing"})
		}
	}))
	defer srv.Close()

	a := newTestAssemblyAI(srv.URL, 3)

	_, err := a.Transcribe(context.Background(), Media{Data: []byte("x")}, Options{}, nil)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", timeoutErr.Attempts)
	}
}

func TestAssemblyAI_TerminalErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload":
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/u"})
		case r.Method == http.MethodPost && r.URL.Path == "/transcript":
			json.NewEncoder(w).Encode(map[string]string{"id": "bad", "status": "queued"})
		default:
			json.NewEncoder(w).Encode(map[string]string{
				"id": "bad", "status": "error", "error": "audio duration too short",
			})
		}
	}))
	defer srv.Close()

	a := newTestAssemblyAI(srv.URL, 10)

	_, err := a.Transcribe(context.Background(), Media{Data: []byte("x")}, Options{}, nil)
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !strings.Contains(provErr.Message, "audio duration too short") {
		t.Errorf("expected provider message carried, got %q", provErr.Message)
	}
}

func TestAssemblyAI_MissingKey(t *testing.T) {
	a := newTestAssemblyAI("http://unused", 1)
	a.apiKey = ""

	_, err := a.Transcribe(context.Background(), Media{Data: []byte("x")}, Options{}, nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "ASSEMBLYAI_API_KEY" {
		t.Errorf("Field = %q", cfgErr.Field)
	}
}
