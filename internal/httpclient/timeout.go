package httpclient

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/storefront/internal/errors"
)

// ErrCallTimeout is wrapped by errors returned from CallWithTimeout when the
// bound elapses before fn returns.
var ErrCallTimeout = errors.NewStd("remote call timed out")

// CallWithTimeout runs fn with a context bounded by d and returns as soon as
// either fn settles or the bound elapses. On timeout it returns
// ErrCallTimeout even if fn ignores its context and keeps running; fn's late
// result is discarded. A non-positive d runs fn without a bound.
func CallWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		val, err := fn(ctx)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errors.New(ctx.Err()).
				Category(errors.CategoryCancellation).
				Build()
		}
		return zero, errors.New(fmt.Errorf("%w after %s", ErrCallTimeout, d)).
			Category(errors.CategoryTimeout).
			Context("timeout", d.String()).
			Build()
	}
}
