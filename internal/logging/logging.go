// Package logging builds the process logger and the per-monkey log sinks.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Unknown or empty
	// values fall back to info.
	Level string

	// Format is "json" or "console". Empty selects console when Output is a
	// terminal and json otherwise.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer
}

// New creates the process logger.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	if useConsole(opts.Format, out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "mobu").Logger()
}

// ForFlock returns a child logger tagged with the flock name.
func ForFlock(parent zerolog.Logger, flock string) zerolog.Logger {
	return parent.With().Str("flock", flock).Logger()
}

// ForMonkey returns the dedicated log sink of one monkey.
func ForMonkey(parent zerolog.Logger, monkey, user string) zerolog.Logger {
	return parent.With().Str("monkey", monkey).Str("user", user).Logger()
}

func useConsole(format string, out io.Writer) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
