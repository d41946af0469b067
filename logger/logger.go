package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger of the service.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures Log. An unknown level falls back to info; pretty switches
// to the human readable console writer.
func Init(level string, pretty bool) zerolog.Logger {
	return InitWriter(os.Stderr, level, pretty)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	Log = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return Log
}

// With returns a child of Log tagged with the component name.
func With(component string) *zerolog.Logger {
	l := Log.With().Str("component", component).Logger()
	return &l
}
