package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/speechkit/internal/speech"
)

// readiness is the one-time initialization gate every manager operation waits
// on. Its outcome never changes once settled.
type readiness struct {
	startOnce  sync.Once
	settleOnce sync.Once
	done       chan struct{}
	err        error
}

func newReadiness() *readiness {
	return &readiness{done: make(chan struct{})}
}

// start initializes engine once. A zero timeout waits indefinitely.
func (r *readiness) start(engine speech.Engine, timeout time.Duration, logger *slog.Logger) {
	r.startOnce.Do(func() {
		began := time.Now()
		logger.Info("initializing speech engine", "engine", engine.Name())
		if timeout > 0 {
			timer := time.AfterFunc(timeout, func() {
				r.settle(fmt.Errorf("engine %s not ready after %s", engine.Name(), timeout))
			})
			go func() {
				<-r.done
				timer.Stop()
			}()
		}
		engine.Start(func(err error) {
			r.settle(err)
		})
		go func() {
			<-r.done
			if r.err != nil {
				logger.Error("speech engine initialization failed", "engine", engine.Name(), "error", r.err)
				return
			}
			logger.Info("speech engine initialized", "engine", engine.Name(), "elapsed", time.Since(began))
		}()
	})
}

func (r *readiness) settle(err error) {
	r.settleOnce.Do(func() {
		if err != nil {
			r.err = speech.InitError(err)
		}
		close(r.done)
	})
}

// wait blocks until initialization settles or ctx is done.
func (r *readiness) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	default:
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", speech.ErrCancelled, ctx.Err())
	}
}

// state reports readiness without blocking.
func (r *readiness) state() (ready bool, err error) {
	select {
	case <-r.done:
		return r.err == nil, r.err
	default:
		return false, nil
	}
}
