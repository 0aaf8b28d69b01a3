package httpclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storefront/internal/errors"
)

func TestCallWithTimeout(t *testing.T) {
	t.Parallel()

	t.Run("settles before bound", func(t *testing.T) {
		t.Parallel()
		got, err := CallWithTimeout(t.Context(), time.Second, func(context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("returns fn error", func(t *testing.T) {
		t.Parallel()
		boom := errors.NewStd("boom")
		_, err := CallWithTimeout(t.Context(), time.Second, func(context.Context) (string, error) {
			return "", boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("hung call times out", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		defer close(release)

		start := time.Now()
		_, err := CallWithTimeout(t.Context(), 30*time.Millisecond, func(context.Context) (int, error) {
			<-release // ignores its context
			return 1, nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCallTimeout)
		assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := CallWithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCallTimeout)
	})

	t.Run("non-positive bound runs unbounded", func(t *testing.T) {
		t.Parallel()
		got, err := CallWithTimeout(t.Context(), 0, func(ctx context.Context) (bool, error) {
			_, has := ctx.Deadline()
			return has, nil
		})
		require.NoError(t, err)
		assert.False(t, got)
	})
}
