package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/speechkit/internal/config"
	"github.com/ent0n29/speechkit/internal/history"
	"github.com/ent0n29/speechkit/internal/observability"
	"github.com/ent0n29/speechkit/internal/session"
	"github.com/ent0n29/speechkit/internal/speech"
	"github.com/ent0n29/speechkit/internal/voice"
)

// SpeechManager is the manager surface the API drives.
type SpeechManager interface {
	EngineName() string
	Ready() (bool, error)
	Speak(ctx context.Context, req speech.Request) error
	Listen(ctx context.Context, req speech.Request) iter.Seq2[speech.Transcript, error]
	Stop()
	Active() (session.Session, bool)
	AvailableVoices(ctx context.Context) ([]speech.Voice, error)
	AvailableLanguages(ctx context.Context) ([]speech.Locale, error)
	Voice(ctx context.Context) (speech.Voice, error)
	SetVoice(ctx context.Context, v speech.Voice) error
	Pitch() float64
	SetPitch(p float64) error
	Rate() float64
	SetRate(r float64) error
}

type Server struct {
	cfg            config.Config
	manager        SpeechManager
	history        history.Store
	metrics        *observability.Metrics
	metricsHandler http.Handler
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

type Option func(*Server)

// WithMetricsHandler replaces the default registry handler behind /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(cfg config.Config, manager SpeechManager, store history.Store, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:            cfg,
		manager:        manager,
		history:        store,
		metrics:        metrics,
		metricsHandler: observability.MetricsHandler(),
		logger:         slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the microphone stream.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHandler.ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/speak", s.handleSpeak)
		r.Post("/stop", s.handleStop)
		r.Get("/voices", s.handleListVoices)
		r.Get("/languages", s.handleListLanguages)
		r.Get("/voice", s.handleGetVoice)
		r.Put("/voice", s.handleSetVoice)
		r.Put("/voice/pitch", s.handleSetPitch)
		r.Put("/voice/rate", s.handleSetRate)
		r.Post("/listen", s.handleListen)
		r.Get("/listen/ws", s.handleListenWS)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Delete("/perf/latency", s.handleResetPerfLatency)
	})

	return otelhttp.NewHandler(r, "speechkit.http")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": s.manager.EngineName(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready, err := s.manager.Ready()
	switch {
	case ready:
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ready",
			"engine": s.manager.EngineName(),
		})
	case err != nil:
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "failed",
			"engine": s.manager.EngineName(),
			"error":  err.Error(),
		})
	default:
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "initializing",
			"engine": s.manager.EngineName(),
		})
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Class      string `json:"class,omitempty"`
	Phase      string `json:"phase,omitempty"`
	EngineCode *int   `json:"engine_code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondSpeechError maps the manager's error taxonomy onto HTTP statuses.
func respondSpeechError(w http.ResponseWriter, err error) {
	status, body := speechErrorResponse(err)
	respondJSON(w, status, body)
}

func speechErrorResponse(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}
	var ee *speech.EngineError
	if errors.As(err, &ee) {
		body.Class = string(ee.Class)
		body.Phase = string(ee.Phase)
		body.EngineCode = ee.Code
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, speech.ErrStopTimeout):
		status, body.Code = http.StatusConflict, "stop_timeout"
	case errors.Is(err, speech.ErrCancelled):
		status, body.Code = http.StatusConflict, "cancelled"
	case errors.Is(err, voice.ErrOutOfRange):
		status, body.Code = http.StatusBadRequest, "out_of_range"
	case errors.Is(err, voice.ErrClosed):
		status, body.Code = http.StatusServiceUnavailable, "closed"
	case errors.Is(err, speech.ErrInitialization):
		status, body.Code = http.StatusServiceUnavailable, "engine_unavailable"
	case errors.Is(err, speech.ErrUnsupportedLanguage):
		status, body.Code = http.StatusUnprocessableEntity, "unsupported_language"
	case errors.Is(err, speech.ErrMissingLanguageData):
		status, body.Code = http.StatusUnprocessableEntity, "missing_language_data"
	case errors.Is(err, speech.ErrUnsupportedOperation):
		status, body.Code = http.StatusNotImplemented, "unsupported_operation"
	case errors.Is(err, speech.ErrEngineInternal):
		status, body.Code = http.StatusBadGateway, "engine_error"
	default:
		body.Code = "internal_error"
	}
	return status, body
}
