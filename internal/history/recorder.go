package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/ent0n29/speechkit/internal/session"
)

// Recorder persists terminal sessions off the session path. Observe never
// blocks; when the buffer is full the record is dropped with a warning.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	records chan Record
	done    chan struct{}
}

func NewRecorder(store Store, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		records: make(chan Record, buffer),
		done:    make(chan struct{}),
	}
}

// Observe queues s for persistence if it is terminal.
func (r *Recorder) Observe(s session.Session) {
	if !s.State.Terminal() {
		return
	}
	select {
	case r.records <- FromSession(s):
	default:
		r.logger.Warn("history buffer full; dropping session record", "session_id", s.ID)
	}
}

// Run saves queued records until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case rec := <-r.records:
			r.save(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.records:
					r.save(rec)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (r *Recorder) Wait() { <-r.done }

func (r *Recorder) save(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, rec); err != nil {
		r.logger.Error("save session record failed", "session_id", rec.ID, "error", err)
	}
}
