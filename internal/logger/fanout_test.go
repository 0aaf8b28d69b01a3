package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutHandlerRespectsEachLevel(t *testing.T) {
	t.Parallel()

	info := &bytes.Buffer{}
	debug := &bytes.Buffer{}
	h := newFanoutHandler(
		slog.NewTextHandler(info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewTextHandler(debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	log := slog.New(h).With("module", "wishlist")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug-4))

	log.Debug("count refetched")
	log.Info("toggle applied")

	assert.NotContains(t, info.String(), "count refetched")
	assert.Contains(t, info.String(), "toggle applied")
	assert.Contains(t, info.String(), "module=wishlist")
	assert.Contains(t, debug.String(), "count refetched")
	assert.Contains(t, debug.String(), "toggle applied")
}
