package observ

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetWriter redirects log output; used by tests to capture events.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// Log emits one structured event line with arbitrary key/value context.
func Log(event string, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Info().Fields(kv).Str("event", event).Send()
}

// LogError emits an error-level event carrying the error string.
func LogError(event string, err error, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Error().Fields(kv).Err(err).Str("event", event).Send()
}
