package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/speechkit/internal/speech"
)

type speakRequest struct {
	ID     string  `json:"id,omitempty"`
	Text   string  `json:"text"`
	Locale string  `json:"locale,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
}

type speakResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// handleSpeak blocks until the utterance reaches a terminal state. A newer
// speak request cancels this one, which then answers 409.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var body speakRequest
	if err := decodeJSON(r, &body); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	locale, err := speech.ParseLocale(body.Locale)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_locale", err.Error())
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	err = s.manager.Speak(r.Context(), speech.Request{
		ID:     body.ID,
		Kind:   speech.KindSpeak,
		Text:   body.Text,
		Locale: locale,
		Pitch:  body.Pitch,
		Rate:   body.Rate,
	})
	if err != nil {
		respondSpeechError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, speakResponse{SessionID: body.ID, State: "completed"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	active, ok := s.manager.Active()
	s.manager.Stop()
	resp := map[string]any{"stopped": ok}
	if ok {
		resp["session_id"] = active.ID
		resp["kind"] = active.Request.Kind
	}
	respondJSON(w, http.StatusOK, resp)
}
