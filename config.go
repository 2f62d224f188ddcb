package entitystore

import (
	"log/slog"
	"os"
	"time"
)

// Config configures a Repository instance.
type Config struct {
	// DataDir is the storage root. It is created if missing; failure to
	// access it is fatal at startup.
	DataDir string
	// Logger is an optional structured logger. If nil, a stderr logger
	// is used.
	Logger *slog.Logger
	// AsyncPollInterval is the async worker's sleep between queue
	// scans. Zero selects the default of 500ms.
	AsyncPollInterval time.Duration
	// AsyncJitterBase and AsyncJitterSpread delay each queued entity by
	// base + rand(spread) before the worker picks it up. Zero selects
	// the defaults of 5s each.
	AsyncJitterBase   time.Duration
	AsyncJitterSpread time.Duration
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
