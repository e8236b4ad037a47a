package utils

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_DefaultArgs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelInfo)

	ctx := WithDefaultArgs(context.Background(), "stage", "index")
	ctx = WithDefaultArgs(ctx, "key", "6_5_400/3")
	log.WarnCtx(ctx, "frame failed", "frame", 4)
	assert.Contains(t, buf.String(), `msg="[zootracer] frame failed" frame=4 stage=index key=6_5_400/3`)

	buf.Reset()
	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Error("shown")
	assert.Contains(t, buf.String(), "level=ERROR")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
