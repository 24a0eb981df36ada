package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/speechkit/internal/speech"
)

const defaultStopTimeout = 2 * time.Second

// Job drives one session on the engine.
type Job struct {
	// Run blocks until the engine reports a terminal outcome. After Stop it
	// should return once the engine acknowledges, and always once ctx is done.
	Run func(ctx context.Context) error
	// Stop asks the engine to halt Run. It is called with the queue locked and
	// must not block or call back into the queue.
	Stop func()
}

type Config struct {
	// StopTimeout bounds how long a cancelled session waits for the engine to
	// acknowledge stop before it is force-cancelled.
	StopTimeout time.Duration
	// ListenPolicy applies to listen requests. Speak requests always flush.
	ListenPolicy Policy
	Logger       *slog.Logger
	// OnTransition observes state changes. Terminal transitions are delivered
	// in the order sessions became active.
	OnTransition func(Session)
}

// Queue serializes sessions on a single engine: at most one session is active
// at a time and sessions activate in submission order.
type Queue struct {
	cfg Config

	mu        sync.Mutex
	pending   []*entry
	active    *entry
	exclusive bool
	changed   chan struct{}
}

type entry struct {
	s               Session
	job             Job
	cancelRequested bool
	cancel          chan struct{}
}

func NewQueue(cfg Config) *Queue {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.ListenPolicy == "" {
		cfg.ListenPolicy = PolicyQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{cfg: cfg, changed: make(chan struct{})}
}

// Submit enqueues req and blocks until its session reaches a terminal state.
// It returns nil for Completed, an error matching speech.ErrCancelled for
// Cancelled and the job's error for Failed. Cancelling ctx cancels the session.
func (q *Queue) Submit(ctx context.Context, req speech.Request, job Job) (Session, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	e := &entry{
		s: Session{
			ID:        req.ID,
			Request:   req,
			State:     StatePending,
			CreatedAt: time.Now().UTC(),
		},
		job:    job,
		cancel: make(chan struct{}),
	}

	q.mu.Lock()
	var flushed []Session
	if q.flushes(req.Kind) {
		flushed = q.flushLocked()
	}
	q.pending = append(q.pending, e)
	created := e.s
	q.mu.Unlock()

	for _, s := range flushed {
		q.notify(s)
	}
	q.notify(created)

	if err := q.awaitActivation(ctx, e); err != nil {
		return q.snapshot(e), err
	}
	return q.run(ctx, e)
}

// Stop cancels the active session, if any. It never blocks on the engine and
// reports whether a session was cancelled.
func (q *Queue) Stop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return false
	}
	q.cancelActiveLocked()
	return true
}

// Exclusive runs fn while no session is active and keeps sessions from
// activating until fn returns.
func (q *Queue) Exclusive(ctx context.Context, fn func() error) error {
	for {
		q.mu.Lock()
		if q.active == nil && !q.exclusive {
			q.exclusive = true
			q.mu.Unlock()
			break
		}
		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() {
		q.mu.Lock()
		q.exclusive = false
		q.broadcastLocked()
		q.mu.Unlock()
	}()
	return fn()
}

// Active returns a snapshot of the active session.
func (q *Queue) Active() (Session, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return Session{}, false
	}
	return q.active.s, true
}

func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) flushes(kind speech.Kind) bool {
	if kind == speech.KindListen {
		return q.cfg.ListenPolicy == PolicyFlush
	}
	return true
}

// flushLocked cancels the active session and drops every pending one.
func (q *Queue) flushLocked() []Session {
	var flushed []Session
	now := time.Now().UTC()
	for _, p := range q.pending {
		p.s.State = StateCancelled
		p.s.EndedAt = now
		flushed = append(flushed, p.s)
	}
	q.pending = nil
	if q.active != nil {
		q.cancelActiveLocked()
	}
	if len(flushed) > 0 {
		q.broadcastLocked()
	}
	return flushed
}

func (q *Queue) cancelActiveLocked() {
	e := q.active
	if e.cancelRequested {
		return
	}
	e.cancelRequested = true
	close(e.cancel)
	if e.job.Stop != nil {
		e.job.Stop()
	}
}

func (q *Queue) awaitActivation(ctx context.Context, e *entry) error {
	for {
		q.mu.Lock()
		if e.s.State == StateCancelled {
			q.mu.Unlock()
			return speech.ErrCancelled
		}
		if q.active == nil && !q.exclusive && len(q.pending) > 0 && q.pending[0] == e {
			q.pending = q.pending[1:]
			q.active = e
			e.s.State = StateActive
			e.s.ActivatedAt = time.Now().UTC()
			activated := e.s
			q.mu.Unlock()
			q.notify(activated)
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			q.mu.Lock()
			if e.s.State != StatePending {
				// Flushed or activated while we were waking up; re-evaluate.
				q.mu.Unlock()
				continue
			}
			q.removePendingLocked(e)
			e.s.State = StateCancelled
			e.s.EndedAt = time.Now().UTC()
			cancelled := e.s
			q.broadcastLocked()
			q.mu.Unlock()
			q.notify(cancelled)
			return speech.ErrCancelled
		}
	}
}

func (q *Queue) run(ctx context.Context, e *entry) (Session, error) {
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	result := make(chan error, 1)
	go func() { result <- e.job.Run(runCtx) }()

	var (
		runErr   error
		finished bool
		forced   bool
	)
	select {
	case runErr = <-result:
		finished = true
	case <-e.cancel:
	case <-ctx.Done():
		q.mu.Lock()
		q.cancelActiveLocked()
		q.mu.Unlock()
	}

	if !finished {
		timer := time.NewTimer(q.cfg.StopTimeout)
		select {
		case runErr = <-result:
		case <-timer.C:
			forced = true
			q.cfg.Logger.Warn("engine did not acknowledge stop; forcing cancellation",
				"session_id", e.s.ID,
				"kind", e.s.Request.Kind,
				"timeout", q.cfg.StopTimeout,
			)
		}
		timer.Stop()
	}

	q.mu.Lock()
	var err error
	switch {
	case e.cancelRequested && forced:
		e.s.State = StateCancelled
		e.s.Err = speech.ErrStopTimeout
		err = fmt.Errorf("%w: %w", speech.ErrCancelled, speech.ErrStopTimeout)
	case e.cancelRequested:
		e.s.State = StateCancelled
		err = speech.ErrCancelled
	case runErr != nil:
		e.s.State = StateFailed
		e.s.Err = runErr
		err = runErr
	default:
		e.s.State = StateCompleted
	}
	e.s.EndedAt = time.Now().UTC()
	done := e.s
	q.mu.Unlock()

	// The active slot is released only after observers saw the terminal state,
	// so a superseding session cannot activate before this one resolved.
	q.notify(done)

	q.mu.Lock()
	q.active = nil
	q.broadcastLocked()
	q.mu.Unlock()

	return done, err
}

func (q *Queue) snapshot(e *entry) Session {
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.s
}

func (q *Queue) removePendingLocked(e *entry) {
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) notify(s Session) {
	q.cfg.Logger.Debug("session transition", "session_id", s.ID, "kind", s.Request.Kind, "state", s.State)
	if q.cfg.OnTransition != nil {
		q.cfg.OnTransition(s)
	}
}
