package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/speechkit/internal/speech"
)

type listVoicesResponse struct {
	Current speech.Voice   `json:"current"`
	Voices  []speech.Voice `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.manager.AvailableVoices(r.Context())
	if err != nil {
		respondSpeechError(w, err)
		return
	}
	current, err := s.manager.Voice(r.Context())
	if err != nil {
		respondSpeechError(w, err)
		return
	}

	if locale := strings.TrimSpace(r.URL.Query().Get("locale")); locale != "" {
		want, err := speech.ParseLocale(locale)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_locale", err.Error())
			return
		}
		filtered := voices[:0:0]
		for _, v := range voices {
			if v.Locale.ISO3Language() == want.ISO3Language() &&
				(want.Country() == "" || v.Locale.ISO3Country() == want.ISO3Country()) {
				filtered = append(filtered, v)
			}
		}
		voices = filtered
	}
	if voices == nil {
		voices = []speech.Voice{}
	}

	respondJSON(w, http.StatusOK, listVoicesResponse{Current: current, Voices: voices})
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	langs, err := s.manager.AvailableLanguages(r.Context())
	if err != nil {
		respondSpeechError(w, err)
		return
	}
	if langs == nil {
		langs = []speech.Locale{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"languages": langs})
}

type voiceSettings struct {
	Voice speech.Voice `json:"voice"`
	Pitch float64      `json:"pitch"`
	Rate  float64      `json:"rate"`
}

func (s *Server) currentSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.Voice(r.Context())
	if err != nil {
		respondSpeechError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, voiceSettings{Voice: v, Pitch: s.manager.Pitch(), Rate: s.manager.Rate()})
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	s.currentSettings(w, r)
}

// handleSetVoice selects a voice by name from the engine's catalog. The engine
// may still refuse it; the response then reports the voice kept.
func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	voices, err := s.manager.AvailableVoices(r.Context())
	if err != nil {
		respondSpeechError(w, err)
		return
	}
	var (
		target speech.Voice
		found  bool
	)
	for _, v := range voices {
		if v.Name == name {
			target, found = v, true
			break
		}
	}
	if !found {
		respondError(w, http.StatusNotFound, "voice_not_found", "no voice named "+name)
		return
	}
	if err := s.manager.SetVoice(r.Context(), target); err != nil {
		respondSpeechError(w, err)
		return
	}
	s.currentSettings(w, r)
}

type valueRequest struct {
	Pitch *float64 `json:"pitch,omitempty"`
	Rate  *float64 `json:"rate,omitempty"`
}

func (s *Server) handleSetPitch(w http.ResponseWriter, r *http.Request) {
	var body valueRequest
	if err := decodeJSON(r, &body); err != nil || body.Pitch == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "pitch is required")
		return
	}
	if err := s.manager.SetPitch(*body.Pitch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pitch", err.Error())
		return
	}
	s.currentSettings(w, r)
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var body valueRequest
	if err := decodeJSON(r, &body); err != nil || body.Rate == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "rate is required")
		return
	}
	if err := s.manager.SetRate(*body.Rate); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_rate", err.Error())
		return
	}
	s.currentSettings(w, r)
}
