package history

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/speechkit/internal/policy"
	"github.com/ent0n29/speechkit/internal/session"
	"github.com/ent0n29/speechkit/internal/speech"
)

// Record is the persisted outcome of one speech session.
type Record struct {
	ID          string    `json:"session_id"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	ErrorClass  string    `json:"error_class,omitempty"`
	Forced      bool      `json:"forced,omitempty"`
	Locale      string    `json:"locale,omitempty"`
	Text        string    `json:"text,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	Redactions  []string  `json:"redactions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
	EndedAt     time.Time `json:"ended_at"`
}

// Store persists and retrieves session records.
type Store interface {
	Save(ctx context.Context, record Record) error
	// Recent returns up to limit records, newest first. An empty kind
	// matches every kind.
	Recent(ctx context.Context, kind string, limit int) ([]Record, error)
	Close() error
}

// FromSession builds a record from a terminal session. Speak text is redacted
// before it leaves the process.
func FromSession(s session.Session) Record {
	text, kinds := policy.RedactPII(s.Request.Text)
	r := Record{
		ID:          s.ID,
		Kind:        string(s.Request.Kind),
		State:       string(s.State),
		Forced:      s.Forced(),
		Locale:      s.Request.Locale.String(),
		Text:        text,
		PIIRedacted: len(kinds) > 0,
		Redactions:  kinds,
		CreatedAt:   s.CreatedAt,
		ActivatedAt: s.ActivatedAt,
		EndedAt:     s.EndedAt,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
		var ee *speech.EngineError
		if errors.As(s.Err, &ee) {
			r.ErrorClass = string(ee.Class)
		}
	}
	return r
}
