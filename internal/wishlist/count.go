package wishlist

import (
	"context"
	"time"

	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/observability/metrics"
)

// WishlistCount fetches the wishlist count of productID and caches it.
func (s *Synchronizer) WishlistCount(ctx context.Context, productID int) (int, error) {
	n, err := callRemote(ctx, s, metrics.OpWishlistCount, func(ctx context.Context) (int, error) {
		return s.remote.Count(ctx, productID)
	})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.counts[productID] = n
	s.mu.Unlock()
	return n, nil
}

// CachedCount returns the last fetched count of productID.
func (s *Synchronizer) CachedCount(productID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[productID]
	return n, ok
}

// scheduleCount re-fetches the count of productID after the debounce.
// Repeated transitions within the window collapse into one fetch.
func (s *Synchronizer) scheduleCount(productID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if t, ok := s.timers[productID]; ok {
		t.Reset(s.cfg.CountDebounce)
		return
	}

	s.timers[productID] = time.AfterFunc(s.cfg.CountDebounce, func() {
		s.mu.Lock()
		delete(s.timers, productID)
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		n, err := s.WishlistCount(s.ctx, productID)
		if err != nil {
			s.log.Debug("wishlist count refresh failed", logger.Int("product_id", productID), logger.Error(err))
			return
		}
		if s.cfg.OnCountChange != nil {
			s.cfg.OnCountChange(productID, n)
		}
	})
}

func (s *Synchronizer) stopTimersLocked() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Clear forgets all membership flags, counts and pending count refreshes.
// Called on logout.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.counts = make(map[int]int)
	s.mu.Unlock()

	n, err := s.store.RemovePrefix(memberPrefix)
	if err != nil {
		s.log.Warn("failed to clear wishlist cache", logger.Error(err))
		return
	}
	s.log.Debug("wishlist cache cleared", logger.Int("entries", n))
}

// Close stops pending count refreshes and waits for running ones.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.cancel()
	s.stopTimersLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("timed out waiting for count refresh")
	}
}
