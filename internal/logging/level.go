package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
)

var (
	_ pflag.Value = (*LevelValue)(nil)
	_ pflag.Value = (*FormatValue)(nil)
)

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}

// Format selects the handler used for supervisor logs.
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatJournal Format = "journal"
)

// LevelValue is a pflag.Value for --log-level.
type LevelValue struct {
	Level slog.Level
}

func (v *LevelValue) String() string {
	if v == nil {
		return "info"
	}
	return strings.ToLower(v.Level.String())
}

// Set parses a level name.
func (v *LevelValue) Set(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	v.Level = level
	return nil
}

// Type names the flag value in usage output.
func (v *LevelValue) Type() string { return "level" }

// FormatValue is a pflag.Value for --log-format.
type FormatValue struct {
	Format Format
}

func (v *FormatValue) String() string {
	if v == nil || v.Format == "" {
		return string(FormatText)
	}
	return string(v.Format)
}

// Set accepts text, json or journal.
func (v *FormatValue) Set(s string) error {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatJournal:
		v.Format = f
		return nil
	default:
		return fmt.Errorf("unknown log format %q (want text, json or journal)", s)
	}
}

// Type names the flag value in usage output.
func (v *FormatValue) Type() string { return "format" }
