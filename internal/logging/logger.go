// Package logging builds the slog loggers used by procsup. Supervisor logs go
// to stderr as text or JSON, or to the systemd journal.
package logging

import (
	"errors"
	"io"
	"log/slog"
)

// ErrJournalUnavailable is returned when the journal format is requested but
// journald cannot be reached.
var ErrJournalUnavailable = errors.New("systemd journal is not available")

// Config selects the level and output format.
type Config struct {
	Level  slog.Level
	Format Format
}

// New returns a logger writing to w in the configured format. The journal
// format ignores w.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	handler, err := newHandler(cfg, w)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

func newHandler(cfg Config, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	switch cfg.Format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	case FormatJournal:
		if !JournalAvailable() {
			return nil, ErrJournalUnavailable
		}
		return NewJournalHandler(cfg.Level), nil
	default:
		return slog.NewTextHandler(w, opts), nil
	}
}

// Module returns a child logger tagged with the component name.
func Module(logger *slog.Logger, module string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("module", module)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
