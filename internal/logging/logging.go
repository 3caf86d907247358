// Package logging builds the structured bolt logger shared by the engine,
// the bulk coordinator, the alert dispatcher and the HTTP server.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"
)

type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Format is json or console.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

func parseLevel(s string) bolt.Level {
	switch strings.ToLower(s) {
	case "trace":
		return bolt.TRACE
	case "debug":
		return bolt.DEBUG
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// New returns a logger for cfg.
func New(cfg Config) *bolt.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var handler bolt.Handler
	if cfg.Format == "console" {
		handler = bolt.NewConsoleHandler(out)
	} else {
		handler = bolt.NewJSONHandler(out)
	}
	return bolt.New(handler).SetLevel(parseLevel(cfg.Level))
}

// Discard returns a logger that drops everything.
func Discard() *bolt.Logger {
	return bolt.New(bolt.NewJSONHandler(io.Discard)).SetLevel(bolt.ERROR)
}

// OrDiscard lets components accept a nil logger.
func OrDiscard(l *bolt.Logger) *bolt.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
