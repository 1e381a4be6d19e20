package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexterra/transcribe-gateway/internal/media"
	"github.com/lexterra/transcribe-gateway/internal/observability"
	"github.com/lexterra/transcribe-gateway/internal/provider"
	"github.com/lexterra/transcribe-gateway/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from the app origin; tighten this when
		// the frontend domain is pinned down.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// streamStart is the first (and only) message a client sends: the media
// payload plus transcription options.
type streamStart struct {
	Provider   string   `json:"provider"`
	LegalMode  bool     `json:"legal_mode,omitempty"`
	Vocabulary []string `json:"vocabulary,omitempty"`
	APIKey     string   `json:"api_key,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	MimeType   string   `json:"mime_type,omitempty"`
	Media      string   `json:"media"` // base64 encoded
}

// streamEvent is a server-to-client message. Exactly one of Result and
// Message is set for terminal events.
type streamEvent struct {
	Event   string             `json:"event"` // "progress" | "completed" | "error"
	Percent float64            `json:"percent,omitempty"`
	Result  *transcript.Result `json:"result,omitempty"`
	Message string             `json:"message,omitempty"`
}

// streamSession wraps one WebSocket connection. Gorilla connections do
// not allow concurrent writes, so every send goes through writeMu.
type streamSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  zerolog.Logger
}

func newStreamSession(conn *websocket.Conn) *streamSession {
	return &streamSession{
		conn: conn,
		logger: observability.GetLogger().With().
			Str("component", "gateway").
			Str("session_id", fmt.Sprintf("ws-%s", uuid.New().String())).
			Logger(),
	}
}

func (s *streamSession) send(ev streamEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(ev)
}

// handleStream runs a single transcription over a WebSocket connection,
// pushing progress events as the job advances. The client sends one
// streamStart message and then only reads.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	session := newStreamSession(conn)

	var start streamStart
	if err := conn.ReadJSON(&start); err != nil {
		session.logger.Warn().Err(err).Msg("failed to read start message")
		session.send(streamEvent{Event: "error", Message: "invalid start message"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(start.Media)
	if err != nil {
		session.send(streamEvent{Event: "error", Message: "media field is not valid base64"})
		return
	}
	if len(data) == 0 {
		session.send(streamEvent{Event: "error", Message: "media payload is empty"})
		return
	}
	if len(data) > maxUploadBytes {
		session.send(streamEvent{Event: "error", Message: "media payload too large"})
		return
	}

	mimeType := start.MimeType
	if mimeType == "" {
		mimeType = media.DetectMIME(data, start.Filename)
	}

	prov, _ := transcript.ParseProvider(start.Provider)
	opts := provider.Options{
		Provider:         prov,
		LegalMode:        start.LegalMode,
		CustomVocabulary: start.Vocabulary,
	}
	switch prov {
	case transcript.ProviderOpenAI:
		opts.OpenAIAPIKey = start.APIKey
	case transcript.ProviderAssemblyAI:
		opts.AssemblyAIAPIKey = start.APIKey
	default:
		opts.GeminiAPIKey = start.APIKey
	}

	// Cancel the job if the client goes away. Reads after the start
	// message only ever return when the connection closes.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	session.logger.Info().
		Str("provider", string(opts.Provider)).
		Int("media_bytes", len(data)).
		Msg("stream transcription started")

	result, err := h.transcriber.TranscribeAudio(ctx,
		provider.Media{Data: data, MimeType: mimeType, Filename: start.Filename},
		opts,
		func(percent float64) {
			session.send(streamEvent{Event: "progress", Percent: percent})
		})
	if err != nil {
		session.logger.Error().Err(err).Msg("stream transcription failed")
		session.send(streamEvent{Event: "error", Message: err.Error()})
		return
	}

	session.send(streamEvent{Event: "completed", Result: result})
	session.logger.Info().Int("segments", len(result.Segments)).Msg("stream transcription completed")
}
