package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/speechkit/internal/session"
	"github.com/ent0n29/speechkit/internal/speech"
)

func TestInMemoryRecentNewestFirst(t *testing.T) {
	s := NewInMemoryStore(time.Minute)
	ctx := context.Background()
	for _, r := range []Record{
		{ID: "a", Kind: "speak"},
		{ID: "b", Kind: "listen"},
		{ID: "c", Kind: "speak"},
	} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("Recent() = %+v, want c, b", got)
	}

	speaks, _ := s.Recent(ctx, "speak", 0)
	if len(speaks) != 2 || speaks[0].ID != "c" || speaks[1].ID != "a" {
		t.Fatalf("Recent(speak) = %+v, want c, a", speaks)
	}
}

func TestInMemoryExpire(t *testing.T) {
	s := NewInMemoryStore(time.Minute)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	_ = s.Save(ctx, Record{ID: "old", EndedAt: now.Add(-2 * time.Minute)})
	_ = s.Save(ctx, Record{ID: "fresh", EndedAt: now.Add(-10 * time.Second)})

	s.expire()
	got, _ := s.Recent(ctx, "", 0)
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("Recent() after expire = %+v, want fresh only", got)
	}
}

func TestFromSessionRedactsAndClassifies(t *testing.T) {
	now := time.Now().UTC()
	s := session.Session{
		ID: "s1",
		Request: speech.Request{
			Kind:   speech.KindSpeak,
			Text:   "mail me at jane@example.com",
			Locale: speech.MustParseLocale("en-US"),
		},
		State:     session.StateFailed,
		Err:       speech.InternalError(speech.PhaseSynthesize, speech.Code(-3), ""),
		CreatedAt: now,
		EndedAt:   now,
	}
	r := FromSession(s)
	if r.Text != "mail me at [REDACTED_EMAIL]" || !r.PIIRedacted {
		t.Fatalf("Text = %q redacted=%v, want email redacted", r.Text, r.PIIRedacted)
	}
	if len(r.Redactions) != 1 || r.Redactions[0] != "email" {
		t.Fatalf("Redactions = %v, want [email]", r.Redactions)
	}
	if r.ErrorClass != "engine_internal" || r.Locale != "en-US" || r.Kind != "speak" {
		t.Fatalf("record = %+v", r)
	}

	forced := session.Session{ID: "s2", State: session.StateCancelled, Err: speech.ErrStopTimeout}
	if r := FromSession(forced); !r.Forced || r.ErrorClass != "" {
		t.Fatalf("forced record = %+v", r)
	}
}

type failingStore struct{ InMemoryStore }

func (f *failingStore) Save(context.Context, Record) error { return errors.New("disk full") }

func TestRecorderPersistsTerminalSessions(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	rec := NewRecorder(store, nil, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	rec.Observe(session.Session{ID: "pending", State: session.StatePending})
	rec.Observe(session.Session{ID: "done", State: session.StateCompleted, Request: speech.Request{Kind: speech.KindSpeak}})
	cancel()
	rec.Wait()

	got, _ := store.Recent(context.Background(), "", 0)
	if len(got) != 1 || got[0].ID != "done" {
		t.Fatalf("stored = %+v, want only the terminal session", got)
	}

	// A failing store must not block or panic the recorder.
	bad := NewRecorder(&failingStore{}, nil, 1)
	ctx, cancel = context.WithCancel(context.Background())
	go bad.Run(ctx)
	bad.Observe(session.Session{ID: "x", State: session.StateCompleted})
	cancel()
	bad.Wait()
}
