// Package gateway exposes the transcription pipeline over HTTP for the
// browser client: a multipart upload endpoint, post-processing endpoints,
// and a WebSocket variant that streams progress events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/media"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/orchestrator"
	"github.com/lexterra/transcribe-gateway/internal/postprocess"
	"github.com/lexterra/transcribe-gateway/internal/provider"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

// Uploads above this size are rejected outright; provider limits are far
// below it anyway.
const maxUploadBytes = 512 << 20

// Transcriber is the orchestrator surface the gateway needs. Narrowed to
// an interface so tests can inject fakes.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, media provider.Media, opts provider.Options, progress provider.ProgressFunc) (*transcript.Result, error)
}

// PostProcessor is the summarize/translate surface.
type PostProcessor interface {
	Summarize(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// Handler wires the HTTP surface to the orchestrator.
type Handler struct {
	transcriber Transcriber
	post        PostProcessor
	logger      zerolog.Logger
}

// NewHandler creates the gateway handler.
func NewHandler(t Transcriber, p *postprocess.Client) *Handler {
	return &Handler{
		transcriber: t,
		post:        p,
		logger:      observability.GetLogger().With().Str("component", "gateway").Logger(),
	}
}

// Register mounts all gateway routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/transcriptions", h.handleTranscribe)
	mux.HandleFunc("/v1/transcriptions/stream", h.handleStream)
	mux.HandleFunc("/v1/postprocess/summarize", h.handleSummarize)
	mux.HandleFunc("/v1/postprocess/translate", h.handleTranslate)
}

// handleTranscribe accepts a multipart upload and runs one transcription
// synchronously. With ?format=legal the response is the formatted export
// instead of JSON.
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file: "+err.Error())
		return
	}

	m := provider.Media{
		Data:     data,
		MimeType: media.DetectMIME(data, header.Filename),
		Filename: header.Filename,
	}
	opts := optionsFromForm(r)

	result, err := h.transcriber.TranscribeAudio(r.Context(), m, opts, nil)
	if err != nil {
		h.writeTranscribeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "legal" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(transcript.ExportLegal(result, transcript.ExportOptions{
			Title: r.FormValue("title"),
		})))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleSummarize(w http.ResponseWriter, r *http.Request) {
	h.handlePostProcess(w, r, func(ctx context.Context, req postProcessRequest) (string, error) {
		return h.post.Summarize(ctx, req.Text)
	})
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	h.handlePostProcess(w, r, func(ctx context.Context, req postProcessRequest) (string, error) {
		if req.TargetLanguage == "" {
			return "", errors.New("target_language is required")
		}
		return h.post.Translate(ctx, req.Text, req.TargetLanguage)
	})
}

type postProcessRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language,omitempty"`
}

func (h *Handler) handlePostProcess(w http.ResponseWriter, r *http.Request, fn func(context.Context, postProcessRequest) (string, error)) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if h.post == nil {
		writeError(w, http.StatusNotImplemented, "post-processing is not configured")
		return
	}

	var req postProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := fn(r.Context(), req)
	if err != nil {
		h.writeTranscribeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"text": out})
}

// optionsFromForm builds adapter options from multipart form fields.
func optionsFromForm(r *http.Request) provider.Options {
	prov, _ := transcript.ParseProvider(r.FormValue("provider"))
	opts := provider.Options{
		Provider:  prov,
		LegalMode: r.FormValue("legal_mode") == "true",
	}
	if vocab := r.FormValue("vocabulary"); vocab != "" {
		for _, term := range strings.Split(vocab, ",") {
			if t := strings.TrimSpace(term); t != "" {
				opts.CustomVocabulary = append(opts.CustomVocabulary, t)
			}
		}
	}
	if key := r.FormValue("api_key"); key != "" {
		switch prov {
		case transcript.ProviderOpenAI:
			opts.OpenAIAPIKey = key
		case transcript.ProviderAssemblyAI:
			opts.AssemblyAIAPIKey = key
		default:
			opts.GeminiAPIKey = key
		}
	}
	return opts
}

// writeTranscribeError maps the error taxonomy onto HTTP status codes.
// Every message is safe to show to the user directly.
func (h *Handler) writeTranscribeError(w http.ResponseWriter, err error) {
	var cfgErr *provider.ConfigError
	var provErr *provider.ProviderError
	var procErr *provider.ProcessingError
	var timeoutErr *provider.TimeoutError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrJobInProgress):
		status = http.StatusConflict
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	case errors.As(err, &provErr), errors.As(err, &procErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		status = 499 // client closed request
	}

	h.logger.Error().Err(err).Int("status", status).Msg("request failed")
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
