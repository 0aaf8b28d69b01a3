// Package wishlist keeps a per-product membership cache in sync with the
// backend. Membership is checked remotely at most once per product per
// session, toggles are guarded against concurrent repeats and only applied
// once the server confirms, and per-product counts are re-fetched after a
// debounce when that product's membership changes.
package wishlist

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/httpclient"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/observability/metrics"
	"github.com/tphakala/storefront/internal/store"
)

const (
	// DefaultCountDebounce tolerates eventual consistency of the count endpoint
	DefaultCountDebounce = 500 * time.Millisecond
	// DefaultCallTimeout bounds one remote call
	DefaultCallTimeout = 15 * time.Second

	memberPrefix = "wishlist:member:"

	// maxParallelChecks bounds CheckMany fan-out
	maxParallelChecks = 4
)

var (
	// ErrLoginRequired signals the caller to redirect to login.
	ErrLoginRequired = errors.NewStd("login required")
	// ErrInProgress is returned by Add and Remove while another mutation of
	// the same product is in flight.
	ErrInProgress = errors.NewStd("wishlist update already in progress")
)

// Remote is the backend wishlist API.
type Remote interface {
	Check(ctx context.Context, productID int) (bool, error)
	Toggle(ctx context.Context, productID int) (bool, error)
	Add(ctx context.Context, productID int) error
	Remove(ctx context.Context, productID int) error
	Count(ctx context.Context, productID int) (int, error)
}

// Authenticator reports whether a usable credential is present.
type Authenticator interface {
	IsAuthenticated() bool
}

// Config holds synchronizer settings.
type Config struct {
	CallTimeout   time.Duration
	CountDebounce time.Duration
	// OnCountChange is called from a timer goroutine with a freshly fetched count
	OnCountChange func(productID, count int)
}

// ToggleResult is the outcome of ToggleMembership.
type ToggleResult struct {
	// InWishlist is the membership after the call
	InWishlist bool
	// Ignored is true when another toggle for the product was in flight and
	// no network call was made
	Ignored bool
}

// Synchronizer is the wishlist membership service. Safe for concurrent use.
type Synchronizer struct {
	remote  Remote
	auth    Authenticator
	store   store.Store
	cfg     Config
	log     logger.Logger
	metrics metrics.Recorder

	checks singleflight.Group

	mu       sync.Mutex
	inFlight map[int]struct{}
	counts   map[int]int
	timers   map[int]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Synchronizer) { s.metrics = metrics.OrNop(r) }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// New creates a synchronizer keeping membership in st.
func New(remote Remote, auth Authenticator, st store.Store, cfg Config, opts ...Option) *Synchronizer {
	if cfg.CountDebounce <= 0 {
		cfg.CountDebounce = DefaultCountDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		remote:   remote,
		auth:     auth,
		store:    st,
		cfg:      cfg,
		log:      logger.Global().Module("wishlist"),
		metrics:  metrics.NopRecorder{},
		inFlight: make(map[int]struct{}),
		counts:   make(map[int]int),
		timers:   make(map[int]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func memberKey(productID int) string {
	return memberPrefix + strconv.Itoa(productID)
}

func (s *Synchronizer) authenticated() bool {
	return s.auth != nil && s.auth.IsAuthenticated()
}

// Membership returns the cached flag and whether it is known.
func (s *Synchronizer) Membership(productID int) (inWishlist, known bool) {
	found, err := s.store.Get(memberKey(productID), &inWishlist)
	if err != nil || !found {
		return false, false
	}
	return inWishlist, true
}

func (s *Synchronizer) setMembership(productID int, in bool) {
	if err := s.store.Set(memberKey(productID), in); err != nil {
		s.log.Warn("failed to cache membership", logger.Int("product_id", productID), logger.Error(err))
	}
}

// CheckMembership returns the membership of productID, asking the backend
// only when it is not yet known. Concurrent first checks share one call.
// Logged-out users get false without a network call.
func (s *Synchronizer) CheckMembership(ctx context.Context, productID int) (bool, error) {
	if in, known := s.Membership(productID); known {
		return in, nil
	}
	if !s.authenticated() {
		return false, nil
	}

	v, err, _ := s.checks.Do(strconv.Itoa(productID), func() (any, error) {
		if in, known := s.Membership(productID); known {
			return in, nil
		}
		in, err := callRemote(ctx, s, metrics.OpWishlistCheck, func(ctx context.Context) (bool, error) {
			return s.remote.Check(ctx, productID)
		})
		if err != nil {
			return false, err
		}
		s.setMembership(productID, in)
		return in, nil
	})
	if err != nil {
		s.log.Debug("membership check failed", logger.Int("product_id", productID), logger.Error(err))
		return false, err
	}
	return v.(bool), nil
}

// CheckMany checks several products with bounded parallelism.
func (s *Synchronizer) CheckMany(ctx context.Context, productIDs []int) (map[int]bool, error) {
	results := make([]bool, len(productIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)
	for i, id := range productIDs {
		g.Go(func() error {
			in, err := s.CheckMembership(gctx, id)
			results[i] = in
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int]bool, len(productIDs))
	for i, id := range productIDs {
		out[id] = results[i]
	}
	return out, nil
}

// begin claims the in-flight slot for productID.
func (s *Synchronizer) begin(productID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[productID]; busy {
		return false
	}
	s.inFlight[productID] = struct{}{}
	return true
}

func (s *Synchronizer) end(productID int) {
	s.mu.Lock()
	delete(s.inFlight, productID)
	s.mu.Unlock()
}

// InFlight reports whether a mutation of productID is running, for a
// loading affordance.
func (s *Synchronizer) InFlight(productID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[productID]
	return busy
}

// ToggleMembership flips membership on the server. A toggle issued while
// another is in flight for the same product is ignored. The local flag
// changes only after the server reports the new state.
func (s *Synchronizer) ToggleMembership(ctx context.Context, productID int) (ToggleResult, error) {
	if !s.authenticated() {
		return ToggleResult{}, ErrLoginRequired
	}

	prev, known := s.Membership(productID)
	if !s.begin(productID) {
		s.metrics.RecordOperation(metrics.OpWishlistToggle, metrics.StatusSkipped)
		return ToggleResult{InWishlist: prev, Ignored: true}, nil
	}
	defer s.end(productID)

	in, err := callRemote(ctx, s, metrics.OpWishlistToggle, func(ctx context.Context) (bool, error) {
		return s.remote.Toggle(ctx, productID)
	})
	if err != nil {
		s.log.Warn("wishlist toggle failed", logger.Int("product_id", productID), logger.Error(err))
		return ToggleResult{InWishlist: prev}, err
	}

	s.applyMembership(productID, prev, known, in)
	return ToggleResult{InWishlist: in}, nil
}

// Add puts productID into the wishlist.
func (s *Synchronizer) Add(ctx context.Context, productID int) error {
	return s.mutate(ctx, productID, metrics.OpWishlistAdd, true, s.remote.Add)
}

// Remove takes productID out of the wishlist.
func (s *Synchronizer) Remove(ctx context.Context, productID int) error {
	return s.mutate(ctx, productID, metrics.OpWishlistRemove, false, s.remote.Remove)
}

func (s *Synchronizer) mutate(ctx context.Context, productID int, op string, target bool, fn func(context.Context, int) error) error {
	if !s.authenticated() {
		return ErrLoginRequired
	}
	prev, known := s.Membership(productID)
	if !s.begin(productID) {
		s.metrics.RecordOperation(op, metrics.StatusSkipped)
		return ErrInProgress
	}
	defer s.end(productID)

	_, err := callRemote(ctx, s, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, productID)
	})
	if err != nil {
		return err
	}
	s.applyMembership(productID, prev, known, target)
	return nil
}

func (s *Synchronizer) applyMembership(productID int, prev, known, in bool) {
	s.setMembership(productID, in)
	if !known || prev != in {
		s.log.Debug("membership changed",
			logger.Int("product_id", productID),
			logger.Bool("in_wishlist", in))
		s.scheduleCount(productID)
	}
}

// callRemote runs fn bounded by the call timeout and records metrics.
func callRemote[T any](ctx context.Context, s *Synchronizer, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := httpclient.CallWithTimeout(ctx, s.cfg.CallTimeout, fn)
	s.metrics.RecordDuration(op, time.Since(start).Seconds())
	switch {
	case err == nil:
		s.metrics.RecordOperation(op, metrics.StatusSuccess)
	case errors.Is(err, httpclient.ErrCallTimeout):
		s.metrics.RecordOperation(op, metrics.StatusTimeout)
	default:
		s.metrics.RecordOperation(op, metrics.StatusError)
	}
	return v, err
}
