package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntries(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" WARN ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"info", InfoLevel},
		{"verbose", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("svc", "1.0.0", WarnLevel)
	l.SetOutput(&buf)

	ctx := context.Background()
	l.Debug(ctx, "[DEBUG] dropped", nil)
	l.Info(ctx, "[INFO] dropped", nil)
	l.Warn(ctx, "[WARN] kept", Fields{"k": "v"})

	entries := decodeEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "[WARN] kept", entries[0].Message)
	assert.Equal(t, "v", entries[0].Fields["k"])
	assert.Equal(t, "svc", entries[0].Service)

	buf.Reset()
	l.SetLevel(DebugLevel)
	l.Debug(ctx, "[DEBUG] kept", nil)
	assert.Len(t, decodeEntries(t, &buf), 1)
}

func TestStructuredLogger_ContextAndCaller(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("svc", "1.0.0", DebugLevel)
	l.SetOutput(&buf)

	ctx := WithSimulationID(WithRequestID(context.Background(), "req-1"), "sim-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	l.Error(ctx, "[FAIL] boom", Fields{}, errors.New("disk full"))

	entries := decodeEntries(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "sim-1", e.SimulationID)
	assert.Equal(t, "disk full", e.Error)
	assert.True(t, strings.HasSuffix(e.File, "logger_test.go"), e.File)
	assert.Contains(t, e.Function, "TestStructuredLogger_ContextAndCaller")
	assert.Empty(t, e.StackTrace)
}

func TestContextLogger_MergeFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("svc", "1.0.0", InfoLevel)
	l.SetOutput(&buf)

	cl := l.WithFields(Fields{"component": "tariff", "source": "fixture"})
	cl.Info(context.Background(), "[TARIFF] resolved", Fields{"source": "aneel"})

	entries := decodeEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "tariff", entries[0].Fields["component"])
	assert.Equal(t, "aneel", entries[0].Fields["source"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Error(context.Background(), "[NOP] ignored", nil, errors.New("x"))
	})
}
