package transcript

import "strings"

// Provider identifies a transcription backend
type Provider string

const (
	ProviderGemini     Provider = "gemini"
	ProviderOpenAI     Provider = "openai"
	ProviderAssemblyAI Provider = "assemblyai"
)

// ParseProvider normalizes a user-supplied provider name.
// Unknown values return ProviderGemini with ok=false; the orchestrator
// documents Gemini as the fallback adapter.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGemini:
		return ProviderGemini, true
	case ProviderOpenAI:
		return ProviderOpenAI, true
	case ProviderAssemblyAI:
		return ProviderAssemblyAI, true
	default:
		return ProviderGemini, false
	}
}

// Segment is one speech unit with timing and an attributed speaker.
// Start and End are in seconds. Speaker is a free-form label such as
// "Speaker 1". Segments within one result are ordered by Start; overlap
// is not rejected because providers occasionally emit it.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// Result is the canonical output of any provider adapter.
// Text is always populated. Segments is present only when the provider
// returned speaker/timing data; when it is non-empty, Text is derived from
// the segment texts joined by single spaces.
type Result struct {
	Text             string    `json:"text"`
	Segments         []Segment `json:"segments,omitempty"`
	DetectedLanguage string    `json:"detectedLanguage,omitempty"`
	ProviderUsed     Provider  `json:"providerUsed"`
}

// HasSegments reports whether the result carries speaker/timing data.
func (r *Result) HasSegments() bool {
	return len(r.Segments) > 0
}

// FlattenSegments joins segment texts with single spaces, skipping
// entries that are empty after trimming.
func FlattenSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
