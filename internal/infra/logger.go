package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger for the service. An explicit level
// (LOG_LEVEL) wins over the environment default.
func NewLogger(appEnv string, level ...string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
	}
	if len(level) > 0 && strings.TrimSpace(level[0]) != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level[0]))); err == nil {
			lvl = parsed
		}
	}

	logger := zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "genorch").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger
