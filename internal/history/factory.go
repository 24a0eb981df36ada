package history

import (
	"context"
	"strings"
	"time"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory store that forgets records older than retention.
func NewStore(ctx context.Context, databaseURL string, retention time.Duration) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		s := NewInMemoryStore(retention)
		s.StartJanitor(ctx, 0)
		return s, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
