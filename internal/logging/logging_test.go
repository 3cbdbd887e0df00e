package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFlagValues(t *testing.T) {
	var level LevelValue
	require.NoError(t, level.Set("warn"))
	assert.Equal(t, "warn", level.String())
	assert.Error(t, level.Set("verbose"))

	var format FormatValue
	assert.Equal(t, "text", format.String())
	require.NoError(t, format.Set("JSON"))
	assert.Equal(t, FormatJSON, format.Format)
	assert.Error(t, format.Set("xml"))
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: slog.LevelWarn, Format: FormatJSON}, &buf)
	require.NoError(t, err)

	Module(logger, "engine").Info("dropped")
	Module(logger, "engine").Warn("restart scheduled", "process", "api")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "restart scheduled", record["msg"])
	assert.Equal(t, "engine", record["module"])
	assert.Equal(t, "api", record["process"])
}

func TestJournalHandlerFields(t *testing.T) {
	type sent struct {
		message  string
		priority journal.Priority
		vars     map[string]string
	}
	var got []sent
	h := NewJournalHandler(slog.LevelDebug)
	h.send = func(message string, priority journal.Priority, vars map[string]string) error {
		got = append(got, sent{message, priority, vars})
		return nil
	}

	logger := slog.New(h).With("module", "engine").WithGroup("child")
	logger.Error("spawn failed",
		"process", "api",
		"pid", 42,
		"error", errors.New("no such file"),
		"uptime", 1500*time.Millisecond,
	)

	require.Len(t, got, 1)
	assert.Equal(t, "spawn failed", got[0].message)
	assert.Equal(t, journal.PriErr, got[0].priority)
	assert.Equal(t, "procsup", got[0].vars["SYSLOG_IDENTIFIER"])
	assert.Equal(t, "engine", got[0].vars["MODULE"])
	assert.Equal(t, "api", got[0].vars["CHILD_PROCESS"])
	assert.Equal(t, "42", got[0].vars["CHILD_PID"])
	assert.Equal(t, "no such file", got[0].vars["CHILD_ERROR"])
	assert.Equal(t, "1.5s", got[0].vars["CHILD_UPTIME"])
}
