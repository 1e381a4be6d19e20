// Package media defines the boundary to the media normalizer collaborator.
// Actual decoding/resampling happens upstream of this service; the gateway
// only needs the contract and a passthrough implementation.
package media

import (
	"context"
	"net/http"
	"strings"
)

// Normalized is a playable byte blob plus its MIME type.
type Normalized struct {
	Data     []byte
	MimeType string
}

// Normalizer converts a raw media file into a compact, provider-friendly
// form. Implementations fall back to the original bytes on failure or when
// skip is set (providers that accept raw video/audio directly).
type Normalizer interface {
	Normalize(ctx context.Context, data []byte, mimeType string, skip bool) (Normalized, error)
}

// Passthrough returns the input unchanged, sniffing a MIME type when the
// caller supplied none.
type Passthrough struct{}

func (Passthrough) Normalize(_ context.Context, data []byte, mimeType string, _ bool) (Normalized, error) {
	if mimeType == "" {
		mimeType = DetectMIME(data, "")
	}
	return Normalized{Data: data, MimeType: mimeType}, nil
}

// DetectMIME sniffs the content type of a media blob, preferring the
// filename extension for containers http.DetectContentType cannot tell
// apart.
func DetectMIME(data []byte, filename string) string {
	switch {
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(filename, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(filename, ".webm"):
		return "video/webm"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
