package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogs routes the default logger into a buffer for one test.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "loud", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupLogger_RejectsUnknownFormat(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	require.NoError(t, SetupLogger(slog.LevelInfo, "json"))
	assert.ErrorIs(t, SetupLogger(slog.LevelInfo, "xml"), ErrInvalidConfig)
}

func TestLogHelpers(t *testing.T) {
	ctx := context.Background()

	t.Run("debug respects the level", func(t *testing.T) {
		buf := captureLogs(t, slog.LevelInfo)
		LogDebug(ctx, "hidden", Fields{"key": "k1"})
		assert.Empty(t, buf.String())

		buf = captureLogs(t, slog.LevelDebug)
		LogDebug(ctx, "Dropping suggestion", Fields{"key": "k1"})
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "key=k1")
	})

	t.Run("error carries the cause", func(t *testing.T) {
		buf := captureLogs(t, slog.LevelInfo)
		LogError(ctx, errors.New("disk full"), "Transition failed", Fields{"link_id": "L1"})
		assert.Contains(t, buf.String(), `error="disk full"`)
		assert.Contains(t, buf.String(), "link_id=L1")
	})

	t.Run("info", func(t *testing.T) {
		buf := captureLogs(t, slog.LevelInfo)
		LogInfo(ctx, "Transition refused", Fields{"kind": "confirm"})
		assert.Contains(t, buf.String(), "kind=confirm")
	})
}
