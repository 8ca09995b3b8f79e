// Package logx is the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerOpts configures Init. The zero value logs debug lines to stderr in
// console format.
type LoggerOpts struct {
	// Level is a zerolog level name; unknown names keep debug.
	Level string
	// JSON switches from the console writer to one JSON object per line.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
}

// Init replaces the global logger. Calling it without options restores the
// defaults.
func Init(opts ...LoggerOpts) {
	var o LoggerOpts
	if len(opts) > 0 {
		o = opts[0]
	}
	log.Logger = New(o)
}

// New builds a logger without touching the global one.
func New(o LoggerOpts) zerolog.Logger {
	out := o.Output
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	if o.JSON {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).With().Timestamp().Caller().Logger()
	}
	return logger.Level(parseLevel(o.Level))
}

func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.DebugLevel
	}
	lv, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.DebugLevel
	}
	return lv
}

// Conversation returns a child of the global logger tagged with the
// conversation id.
func Conversation(id string) zerolog.Logger {
	return log.Logger.With().Str("conversation_id", id).Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }
