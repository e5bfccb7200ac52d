package logging

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error %d", 1)
			logger.Warnf("warn %d", 2)
			logger.Infof("info %d", 3)
			logger.Debugf("debug %d", 4)

			out := buf.String()
			require.Equal(t, tt.wantError, strings.Contains(out, "error 1"))
			require.Equal(t, tt.wantWarn, strings.Contains(out, "warn 2"))
			require.Equal(t, tt.wantInfo, strings.Contains(out, "info 3"))
			require.Equal(t, tt.wantDebug, strings.Contains(out, "debug 4"))
		})
	}
}

func TestFatalfCallsHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	var got atomic.Value
	logger.SetFatalHandler(func(msg string) { got.Store(msg) })
	logger.Fatalf(NSWAL+"sync failed: %s", "disk full")

	require.Equal(t, "[wal] sync failed: disk full", got.Load())
	require.Contains(t, buf.String(), "sync failed")
	require.Contains(t, buf.String(), "fatal")
}

func TestOrDefault(t *testing.T) {
	var typedNil *DefaultLogger
	require.True(t, IsNil(nil))
	require.True(t, IsNil(typedNil))
	require.False(t, IsNil(Discard))

	require.NotNil(t, OrDefault(typedNil))
	require.Same(t, Discard, OrDefault(Discard))
}

func TestDiscard(t *testing.T) {
	Discard.Errorf("x")
	Discard.Warnf("x")
	Discard.Infof("x")
	Discard.Debugf("x")
	Discard.Fatalf("x")
}
