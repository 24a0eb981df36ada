package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/speechkit/internal/audio"
	"github.com/ent0n29/speechkit/internal/speech"
)

const (
	defaultSampleRate = 16000
	maxListenBody     = 32 << 20
)

type transcriptLine struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

type listenErrorLine struct {
	SessionID string        `json:"session_id"`
	Error     errorResponse `json:"error"`
}

// handleListen accepts a WAV upload, or raw PCM16LE mono with a sample_rate
// query parameter, and streams transcripts back as NDJSON.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locale, err := speech.ParseLocale(q.Get("locale"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_locale", err.Error())
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxListenBody)
	defer body.Close()

	var (
		pcm        io.Reader
		sampleRate = defaultSampleRate
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "":
		data, format, err := audio.DecodeWAVPCM16LE(body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
			return
		}
		pcm, sampleRate = bytes.NewReader(data), format.SampleRate
	case "audio/l16", "application/octet-stream":
		if raw := strings.TrimSpace(q.Get("sample_rate")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				respondError(w, http.StatusBadRequest, "invalid_request", "sample_rate must be a positive integer")
				return
			}
			sampleRate = n
		}
		pcm = body
	default:
		respondError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected audio/wav or audio/l16")
		return
	}

	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		id = uuid.NewString()
	}
	req := speech.Request{
		ID:         id,
		Kind:       speech.KindListen,
		Audio:      pcm,
		SampleRate: sampleRate,
		Locale:     locale,
	}

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false
	for t, err := range s.manager.Listen(r.Context(), req) {
		if err != nil {
			if !started {
				respondSpeechError(w, err)
				return
			}
			_, resp := speechErrorResponse(err)
			_ = enc.Encode(listenErrorLine{SessionID: id, Error: resp})
			_ = rc.Flush()
			return
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
		if err := enc.Encode(transcriptLine{SessionID: id, Text: t.Text, Final: t.Final, Confidence: t.Confidence}); err != nil {
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
	if !started {
		// No speech recognized; the stream still ends cleanly.
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}
