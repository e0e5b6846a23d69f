// Package log configures the process-wide zerolog logger.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the global logger exactly once. level falls back to
// the LOG_LEVEL environment variable, then to info. A nil output defaults
// to stdout.
func Configure(level string, output io.Writer) {
	once.Do(func() {
		parsed := zerolog.InfoLevel
		if level == "" {
			level = os.Getenv("LOG_LEVEL")
		}
		if level != "" {
			if p, err := zerolog.ParseLevel(level); err == nil {
				parsed = p
			}
		}
		zerolog.SetGlobalLevel(parsed)
		zerolog.TimeFieldFormat = time.RFC3339

		if output == nil {
			output = os.Stdout
		}
		base = zerolog.New(output).With().
			Timestamp().
			Str("service", "streaming-eras").
			Logger()
	})
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	Configure("", nil)
	return base
}

// WithComponent returns a child logger annotated with a component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
