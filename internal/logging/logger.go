package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New creates the service-wide structured logger.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "ltibridge").
		Logger().
		Level(lvl)
}
