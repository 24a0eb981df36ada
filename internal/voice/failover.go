package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ent0n29/speechkit/internal/speech"
)

// NewFailoverRecognizer prefers primary and switches to fallback when a
// recognition fails to start. Once fallback succeeds it stays active until it
// fails; then primary is retried.
func NewFailoverRecognizer(primary, fallback speech.Recognizer, logger *slog.Logger) *FailoverRecognizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FailoverRecognizer{primary: primary, fallback: fallback, logger: logger}
}

type FailoverRecognizer struct {
	primary  speech.Recognizer
	fallback speech.Recognizer
	logger   *slog.Logger

	fallbackActive atomic.Bool
}

func (r *FailoverRecognizer) Name() string {
	return fmt.Sprintf("failover(%s,%s)", r.primary.Name(), r.fallback.Name())
}

// FallbackActive reports whether recognitions currently go to the fallback.
func (r *FailoverRecognizer) FallbackActive() bool { return r.fallbackActive.Load() }

// Start succeeds when either engine initializes. A failed primary starts out
// in fallback mode.
func (r *FailoverRecognizer) Start(ready func(error)) {
	var (
		wg                sync.WaitGroup
		primaryErr, fbErr error
	)
	wg.Add(2)
	r.primary.Start(func(err error) { primaryErr = err; wg.Done() })
	r.fallback.Start(func(err error) { fbErr = err; wg.Done() })
	go func() {
		wg.Wait()
		switch {
		case primaryErr == nil:
			ready(nil)
		case fbErr == nil:
			r.logger.Warn("primary recognizer unavailable; using fallback", "primary", r.primary.Name(), "error", primaryErr)
			r.fallbackActive.Store(true)
			ready(nil)
		default:
			ready(fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", primaryErr, fbErr))
		}
	}()
}

func (r *FailoverRecognizer) Recognize(ctx context.Context, utteranceID string, audio io.Reader, sampleRate int, locale speech.Locale) (<-chan speech.RecognitionEvent, error) {
	// Recognition consumes audio, so a retry is only possible when the first
	// attempt failed before reading any of it.
	if r.fallbackActive.Load() {
		events, fbErr := r.fallback.Recognize(ctx, utteranceID, audio, sampleRate, locale)
		if fbErr == nil {
			return events, nil
		}
		// Fallback failed after being active; try primary again.
		events, prErr := r.primary.Recognize(ctx, utteranceID, audio, sampleRate, locale)
		if prErr == nil {
			r.fallbackActive.Store(false)
			return events, nil
		}
		return nil, fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	events, prErr := r.primary.Recognize(ctx, utteranceID, audio, sampleRate, locale)
	if prErr == nil {
		return events, nil
	}
	events, fbErr := r.fallback.Recognize(ctx, utteranceID, audio, sampleRate, locale)
	if fbErr != nil {
		return nil, fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	r.logger.Warn("switched to fallback recognizer", "primary", r.primary.Name(), "error", prErr)
	r.fallbackActive.Store(true)
	return events, nil
}

func (r *FailoverRecognizer) Voices() []speech.Voice { return nil }

func (r *FailoverRecognizer) Languages() []speech.Locale {
	if r.fallbackActive.Load() {
		return r.fallback.Languages()
	}
	return r.primary.Languages()
}

func (r *FailoverRecognizer) Stop() error {
	return errors.Join(r.primary.Stop(), r.fallback.Stop())
}

func (r *FailoverRecognizer) Shutdown() error {
	return errors.Join(r.primary.Shutdown(), r.fallback.Shutdown())
}
