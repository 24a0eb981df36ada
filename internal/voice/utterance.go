package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ent0n29/speechkit/internal/speech"
)

// utterance resolves exactly once from engine callbacks. Callbacks carrying a
// different utterance ID, or arriving after resolution, are dropped.
type utterance struct {
	id      string
	logger  *slog.Logger
	started func()

	once sync.Once
	done chan struct{}
	err  error
}

func newUtterance(id string, logger *slog.Logger, started func()) *utterance {
	return &utterance{id: id, logger: logger, started: started, done: make(chan struct{})}
}

func (u *utterance) OnStart(id string) {
	if id != u.id {
		return
	}
	if u.started != nil {
		u.started()
	}
}

func (u *utterance) OnDone(id string) { u.resolve(id, "done", nil) }

// OnStop acknowledges a stop request. The queue decides whether that means
// cancelled.
func (u *utterance) OnStop(id string, _ bool) { u.resolve(id, "stop", nil) }

func (u *utterance) OnError(id string, code *int) {
	u.resolve(id, "error", speech.InternalError(speech.PhaseSynthesize, code, "synthesis failed"))
}

func (u *utterance) resolve(id, event string, err error) {
	if id != u.id {
		u.logger.Debug("ignoring callback for foreign utterance", "utterance_id", id, "want", u.id, "event", event)
		return
	}
	resolved := false
	u.once.Do(func() {
		u.err = err
		close(u.done)
		resolved = true
	})
	if !resolved {
		u.logger.Debug("ignoring duplicate utterance callback", "utterance_id", id, "event", event)
	}
}

func (u *utterance) wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
