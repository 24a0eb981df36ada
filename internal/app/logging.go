package app

import (
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/ent0n29/speechkit/internal/config"
)

const scopeName = "github.com/ent0n29/speechkit"

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL. The otel
// format hands records to the global OpenTelemetry logger provider, which
// applies its own filtering.
func NewLogger(cfg config.Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts))
	case "otel":
		return otelslog.NewLogger(scopeName)
	default:
		return slog.New(slog.NewTextHandler(out, opts))
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
