package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Call Init before using it.
var Logger zerolog.Logger

// Level is a logging severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how Init configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// CallFields holds the structured fields of one RPC call for the log
// stream: method, attempt, cas_retries, latency, queue_depth, and a short
// object/op id.
type CallFields struct {
	Method     string
	Attempt    int
	CASRetries int
	Latency    time.Duration
	QueueDepth int
	ID         string
}

// Log adds the fields to ev and returns it; the caller chooses the level
// and sends the event. method and attempt are always added; cas_retries,
// latency, queue_depth and id only when non-zero.
func (f CallFields) Log(ev *zerolog.Event) *zerolog.Event {
	ev = ev.Str("method", f.Method).Int("attempt", f.Attempt)
	if f.CASRetries > 0 {
		ev = ev.Int("cas_retries", f.CASRetries)
	}
	if f.Latency > 0 {
		ev = ev.Dur("latency", f.Latency)
	}
	if f.QueueDepth > 0 {
		ev = ev.Int("queue_depth", f.QueueDepth)
	}
	if f.ID != "" {
		ev = ev.Str("id", f.ID)
	}
	return ev
}
