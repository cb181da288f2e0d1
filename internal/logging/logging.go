// Package logging wires up the structured logger shared by the
// supervisor, reflex, and monitor workers: leveled, field-tagged zerolog
// events, console-formatted on a TTY and JSON otherwise.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger. verbose raises the minimum level to
// debug; quiet suppresses everything below warn. When w is a terminal,
// output uses zerolog's human-readable console writer; otherwise
// structured JSON is written.
func New(w io.Writer, verbose, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case quiet:
		level = zerolog.WarnLevel
	case verbose:
		level = zerolog.DebugLevel
	}

	var out io.Writer = w
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
