package voice

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/speechkit/internal/observability"
	"github.com/ent0n29/speechkit/internal/session"
	"github.com/ent0n29/speechkit/internal/speech"
)

const (
	DefaultPitch = 1.0
	DefaultRate  = 1.0
	maxPitch     = 4.0
	maxRate      = 4.0
)

// ErrClosed is returned by operations on a manager after Close.
var ErrClosed = errors.New("voice: manager closed")

// ErrOutOfRange is returned for pitch or rate values outside (0, 4].
var ErrOutOfRange = errors.New("voice: value out of range")

type Config struct {
	DefaultLocale speech.Locale
	PreferOffline bool
	// StrictLanguage reports set-language failures instead of falling back to
	// DefaultLocale.
	StrictLanguage bool
	// SanitizeText strips markup from speak text before it reaches the engine.
	SanitizeText bool
	Pitch        float64
	Rate         float64
	ListenPolicy session.Policy
	StopTimeout  time.Duration
	InitTimeout  time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	// OnTerminal receives every session once it reaches a terminal state.
	OnTerminal func(session.Session)
}

// Manager owns one engine, its session queue and its voice configuration.
type Manager struct {
	engine   speech.Engine
	tts      speech.Synthesizer
	stt      speech.Recognizer
	resolver *Resolver
	queue    *session.Queue
	gate     *readiness

	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	onTerminal func(session.Session)
	sanitize   bool

	mu    sync.RWMutex
	pitch float64
	rate  float64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewManager wraps engine and starts its initialization in the background.
// engine may implement speech.Synthesizer, speech.Recognizer or both.
func NewManager(engine speech.Engine, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/ent0n29/speechkit/internal/voice")
	}
	if cfg.DefaultLocale.IsZero() {
		cfg.DefaultLocale = speech.SystemLocale()
	}
	if cfg.Pitch <= 0 {
		cfg.Pitch = DefaultPitch
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	logger := cfg.Logger.With("engine", engine.Name())

	m := &Manager{
		engine: engine,
		resolver: &Resolver{
			DefaultLocale: cfg.DefaultLocale,
			PreferOffline: cfg.PreferOffline,
			Strict:        cfg.StrictLanguage,
			Logger:        logger,
		},
		gate:       newReadiness(),
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		onTerminal: cfg.OnTerminal,
		sanitize:   cfg.SanitizeText,
		pitch:      cfg.Pitch,
		rate:       cfg.Rate,
	}
	m.tts, _ = engine.(speech.Synthesizer)
	m.stt, _ = engine.(speech.Recognizer)
	m.queue = session.NewQueue(session.Config{
		StopTimeout:  cfg.StopTimeout,
		ListenPolicy: cfg.ListenPolicy,
		Logger:       logger,
		OnTransition: m.observe,
	})
	m.gate.start(engine, cfg.InitTimeout, logger)
	return m
}

func (m *Manager) EngineName() string { return m.engine.Name() }

// Ready reports whether initialization finished, and its error if it failed.
func (m *Manager) Ready() (bool, error) { return m.gate.state() }

// Speak synthesizes req.Text, superseding any active session, and blocks until
// the utterance finishes. A superseded or cancelled utterance returns an error
// matching speech.ErrCancelled; engine failures are *speech.EngineError.
func (m *Manager) Speak(ctx context.Context, req speech.Request) (err error) {
	req.Kind = speech.KindSpeak
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, span := m.tracer.Start(ctx, "speech.speak", trace.WithAttributes(
		attribute.String("speech.session_id", req.ID),
		attribute.Int("speech.text_length", len(req.Text)),
	))
	defer func() { m.endSpan(span, err) }()

	// Zero means the manager's current setting.
	if req.Pitch != 0 {
		if err := checkRange("pitch", req.Pitch, maxPitch); err != nil {
			return err
		}
	}
	if req.Rate != 0 {
		if err := checkRange("rate", req.Rate, maxRate); err != nil {
			return err
		}
	}
	if err := m.await(ctx); err != nil {
		return err
	}
	if m.tts == nil {
		return unsupported(speech.PhaseSynthesize, "engine cannot synthesize speech")
	}

	locale := m.resolver.Locale(req.Locale)
	span.SetAttributes(attribute.String("speech.locale", locale.String()))
	if err := m.resolver.Check(m.tts, locale); err != nil {
		m.countError(err)
		return err
	}

	m.mu.RLock()
	if req.Pitch <= 0 {
		req.Pitch = m.pitch
	}
	if req.Rate <= 0 {
		req.Rate = m.rate
	}
	m.mu.RUnlock()
	req.Locale = locale
	if m.sanitize {
		req.Text = SpeakableText(req.Text)
	}

	job := session.Job{
		Run:  func(ctx context.Context) error { return m.runSpeak(ctx, req) },
		Stop: m.stopEngine,
	}
	_, err = m.queue.Submit(ctx, req, job)
	return m.sessionErr(speech.PhaseSynthesize, err)
}

func (m *Manager) runSpeak(ctx context.Context, req speech.Request) error {
	locale, v, err := m.resolver.Apply(m.tts, req.Locale)
	if err != nil {
		return err
	}
	m.logger.Debug("voice resolved", "session_id", req.ID, "voice", v.Name, "locale", locale.String())
	if err := m.tts.SetPitch(req.Pitch); err != nil {
		return speech.AsEngineError(speech.PhaseSynthesize, err)
	}
	if err := m.tts.SetRate(req.Rate); err != nil {
		return speech.AsEngineError(speech.PhaseSynthesize, err)
	}

	began := time.Now()
	u := newUtterance(req.ID, m.logger, func() {
		m.metrics.ObserveStage("speak_first_audio", time.Since(began))
	})
	if err := m.tts.Speak(req.ID, req.Text, u); err != nil {
		return speech.AsEngineError(speech.PhaseSynthesize, err)
	}
	return u.wait(ctx)
}

// Listen returns a lazy transcript stream for req.Audio. The session is
// enqueued when ranging starts; breaking out of the loop cancels it. A stream
// can be ranged over once; later attempts yield speech.ErrStreamConsumed.
func (m *Manager) Listen(ctx context.Context, req speech.Request) iter.Seq2[speech.Transcript, error] {
	var consumed atomic.Bool
	return func(yield func(speech.Transcript, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(speech.Transcript{}, speech.ErrStreamConsumed)
			return
		}
		m.listen(ctx, req, yield)
	}
}

func (m *Manager) listen(ctx context.Context, req speech.Request, yield func(speech.Transcript, error) bool) {
	req.Kind = speech.KindListen
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, span := m.tracer.Start(ctx, "speech.listen", trace.WithAttributes(
		attribute.String("speech.session_id", req.ID),
	))
	var err error
	defer func() { m.endSpan(span, err) }()

	if err = m.await(ctx); err != nil {
		yield(speech.Transcript{}, err)
		return
	}
	if m.stt == nil {
		err = unsupported(speech.PhaseRecognize, "engine cannot recognize speech")
		yield(speech.Transcript{}, err)
		return
	}
	if req.Audio == nil {
		err = &speech.EngineError{Class: speech.ClassUnsupportedOperation, Phase: speech.PhaseRecognize, Message: "listen request has no audio"}
		yield(speech.Transcript{}, err)
		return
	}
	req.Locale = m.resolver.Locale(req.Locale)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := make(chan speech.Transcript)
	quit := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.queue.Submit(subCtx, req, session.Job{
			Run:  func(ctx context.Context) error { return m.runListen(ctx, req, out, quit) },
			Stop: m.stopEngine,
		})
		done <- err
	}()

	for {
		select {
		case t := <-out:
			if !yield(t, nil) {
				close(quit)
				cancel()
				err = <-done
				if errors.Is(err, speech.ErrCancelled) {
					err = nil
				}
				return
			}
		case err = <-done:
			if err = m.sessionErr(speech.PhaseRecognize, err); err != nil {
				yield(speech.Transcript{}, err)
			}
			return
		}
	}
}

func (m *Manager) runListen(ctx context.Context, req speech.Request, out chan<- speech.Transcript, quit <-chan struct{}) error {
	events, err := m.stt.Recognize(ctx, req.ID, req.Audio, req.SampleRate, req.Locale)
	if err != nil {
		return speech.AsEngineError(speech.PhaseRecognize, err)
	}
	began := time.Now()
	first := true
	for {
		var ev speech.RecognitionEvent
		var ok bool
		select {
		case ev, ok = <-events:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		switch ev.Type {
		case speech.RecognitionError:
			msg := ev.Detail
			if msg == "" {
				msg = "recognition failed"
			}
			return speech.InternalError(speech.PhaseRecognize, ev.Code, msg)
		case speech.RecognitionPartial, speech.RecognitionFinal:
			if first {
				first = false
				m.metrics.ObserveStage("listen_first_transcript", time.Since(began))
			}
			t := speech.Transcript{Text: ev.Text, Final: ev.Type == speech.RecognitionFinal, Confidence: ev.Confidence}
			// After the consumer left, keep draining until the engine
			// acknowledges stop by closing the channel.
			select {
			case out <- t:
			case <-quit:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Stop cancels the active session. It is a no-op when nothing is active.
func (m *Manager) Stop() {
	if m.queue.Stop() {
		m.logger.Info("active session stopped")
	}
}

// Active returns the session currently holding the engine.
func (m *Manager) Active() (session.Session, bool) { return m.queue.Active() }

func (m *Manager) AvailableVoices(ctx context.Context) ([]speech.Voice, error) {
	if err := m.await(ctx); err != nil {
		return nil, err
	}
	return m.engine.Voices(), nil
}

func (m *Manager) AvailableLanguages(ctx context.Context) ([]speech.Locale, error) {
	if err := m.await(ctx); err != nil {
		return nil, err
	}
	return m.engine.Languages(), nil
}

// Voice returns the synthesizer's current voice.
func (m *Manager) Voice(ctx context.Context) (speech.Voice, error) {
	if err := m.await(ctx); err != nil {
		return speech.Voice{}, err
	}
	if m.tts == nil {
		return speech.Voice{}, unsupported(speech.PhaseSynthesize, "engine has no voices")
	}
	return m.tts.Voice(), nil
}

// SetVoice switches the synthesizer voice once no session is active. An engine
// refusal is logged, not returned.
func (m *Manager) SetVoice(ctx context.Context, v speech.Voice) error {
	if err := m.await(ctx); err != nil {
		return err
	}
	if m.tts == nil {
		return unsupported(speech.PhaseSynthesize, "engine has no voices")
	}
	err := m.queue.Exclusive(ctx, func() error {
		if err := m.tts.SetVoice(v); err != nil {
			m.logger.Error("failed to set voice", "voice", v.Name, "locale", v.Locale.String(), "error", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", speech.ErrCancelled, err)
	}
	return nil
}

func (m *Manager) Pitch() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pitch
}

// SetPitch sets the pitch multiplier for later speak requests.
func (m *Manager) SetPitch(p float64) error {
	if err := checkRange("pitch", p, maxPitch); err != nil {
		return err
	}
	m.mu.Lock()
	m.pitch = p
	m.mu.Unlock()
	return nil
}

func (m *Manager) Rate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rate
}

// SetRate sets the speech rate multiplier for later speak requests.
func (m *Manager) SetRate(r float64) error {
	if err := checkRange("rate", r, maxRate); err != nil {
		return err
	}
	m.mu.Lock()
	m.rate = r
	m.mu.Unlock()
	return nil
}

// Close stops any active session and shuts the engine down.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.queue.Stop()
		m.closeErr = m.engine.Shutdown()
	})
	return m.closeErr
}

func (m *Manager) await(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.gate.wait(ctx); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *Manager) stopEngine() {
	if err := m.engine.Stop(); err != nil {
		m.logger.Warn("engine stop failed", "error", err)
	}
}

func (m *Manager) sessionErr(phase speech.Phase, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, speech.ErrCancelled):
		return err
	default:
		ee := speech.AsEngineError(phase, err)
		m.countError(ee)
		return ee
	}
}

func (m *Manager) countError(err error) {
	var ee *speech.EngineError
	if errors.As(err, &ee) {
		m.metrics.ObserveEngineError(string(ee.Phase), string(ee.Class))
	}
}

func (m *Manager) observe(s session.Session) {
	kind := string(s.Request.Kind)
	switch {
	case s.State == session.StateActive:
		m.metrics.ObserveTransition(kind, string(s.State))
	case s.State.Terminal():
		wasActive := !s.ActivatedAt.IsZero()
		queued := s.EndedAt.Sub(s.CreatedAt)
		var active time.Duration
		if wasActive {
			queued = s.ActivatedAt.Sub(s.CreatedAt)
			active = s.EndedAt.Sub(s.ActivatedAt)
		}
		m.metrics.ObserveTerminal(kind, string(s.State), queued, active, wasActive)
		if s.Forced() {
			m.metrics.ObserveStopTimeout()
		}
		if m.onTerminal != nil {
			m.onTerminal(s)
		}
	}
}

func (m *Manager) endSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, speech.ErrCancelled):
		span.SetAttributes(attribute.Bool("speech.cancelled", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func checkRange(name string, v, limit float64) error {
	if v <= 0 || v > limit {
		return fmt.Errorf("%w: %s %.2f not in (0, %.0f]", ErrOutOfRange, name, v, limit)
	}
	return nil
}

func unsupported(phase speech.Phase, msg string) *speech.EngineError {
	return &speech.EngineError{Class: speech.ClassUnsupportedOperation, Phase: phase, Message: msg}
}
