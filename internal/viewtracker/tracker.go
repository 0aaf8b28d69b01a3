// Package viewtracker sends at most one product view event per product per
// calendar day.
//
// TrackView runs an ordered precondition chain before any network call:
// invalid id, missing credential, endpoint known to be unavailable, view
// already recorded today, call already in flight. Successful views are
// recorded in the session store under a key containing the local date, and
// the whole tracked segment is purged when the stored day marker differs
// from today. Endpoints that answered 400 or 404 are remembered until Reset.
package viewtracker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/httpclient"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/observability/metrics"
	"github.com/tphakala/storefront/internal/store"
)

// Result messages returned without a network call.
const (
	MsgInvalidProduct      = "Invalid product ID"
	MsgNotAuthenticated    = "User not authenticated"
	MsgEndpointUnavailable = "Tracking endpoint not available"
	MsgAlreadyTracked      = "View already tracked today (cached)"
	MsgInProgress          = "Tracking already in progress"
	MsgFailed              = "Failed to track view"
)

// Store keys
const (
	keyPrefix        = "viewtracker:"
	trackedPrefix    = keyPrefix + "tracked:"
	failedPrefix     = keyPrefix + "failed:"
	lastCacheDateKey = keyPrefix + "last_cache_date"

	dateLayout = "2006-01-02"
)

// Defaults
const (
	DefaultEndpoint         = "products.view"
	DefaultCallTimeout      = 15 * time.Second
	DefaultRolloverInterval = time.Hour
)

// Outcome labels recorded as the status of metrics.OpViewTrack.
const (
	outcomeInvalid         = "invalid"
	outcomeUnauthenticated = "unauthenticated"
	outcomeUnavailable     = "endpoint_unavailable"
	outcomeCached          = "cached"
	outcomeInProgress      = "in_progress"
	outcomeTracked         = "tracked"
	outcomeNotTracked      = "not_tracked"
	outcomeFailed          = "failed"
	outcomeTimeout         = "timeout"
)

// Result is the outcome of TrackView. It is a value, never an error.
type Result struct {
	Tracked bool   `json:"tracked"`
	Message string `json:"message"`
}

// RemoteCall performs the backend view call for productID.
type RemoteCall func(ctx context.Context, productID int) (Result, error)

// Authenticator reports whether a usable credential is present.
type Authenticator interface {
	IsAuthenticated() bool
}

// Config holds tracker settings.
type Config struct {
	// Endpoint names the remote endpoint for failure marking
	Endpoint string
	// CallTimeout bounds one remote call; 0 disables the bound
	CallTimeout time.Duration
	// RolloverInterval is how often the day marker is checked
	RolloverInterval time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the local clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = metrics.OrNop(r) }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Tracker is the view deduplication service. Construct one per session with
// New and pass it to consumers. Safe for concurrent use.
type Tracker struct {
	store   store.Store
	auth    Authenticator
	remote  RemoteCall
	cfg     Config
	now     func() time.Time
	log     logger.Logger
	metrics metrics.Recorder

	mu      sync.Mutex
	pending map[int]struct{}
	failed  map[string]struct{}

	loopMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// New creates a tracker, restores failed endpoints from st and runs the
// day rollover check once.
func New(st store.Store, auth Authenticator, remote RemoteCall, cfg Config, opts ...Option) *Tracker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RolloverInterval <= 0 {
		cfg.RolloverInterval = DefaultRolloverInterval
	}

	t := &Tracker{
		store:   st,
		auth:    auth,
		remote:  remote,
		cfg:     cfg,
		now:     time.Now,
		log:     logger.Global().Module("viewtracker"),
		metrics: metrics.NopRecorder{},
		pending: make(map[int]struct{}),
		failed:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.restoreFailedEndpoints()
	t.CheckRollover()
	return t
}

func (t *Tracker) today() string {
	return t.now().Format(dateLayout)
}

func trackedKey(day string, productID int) string {
	return trackedPrefix + day + ":" + strconv.Itoa(productID)
}

// TrackView records a view of productID unless a precondition short-circuits.
func (t *Tracker) TrackView(ctx context.Context, productID int) Result {
	if productID <= 0 {
		return t.skip(outcomeInvalid, MsgInvalidProduct, productID)
	}
	if t.auth == nil || !t.auth.IsAuthenticated() {
		return t.skip(outcomeUnauthenticated, MsgNotAuthenticated, productID)
	}

	key := trackedKey(t.today(), productID)

	// check-and-insert happens under one lock so two callers cannot both
	// pass the pending check
	t.mu.Lock()
	if _, failed := t.failed[t.cfg.Endpoint]; failed {
		t.mu.Unlock()
		return t.skip(outcomeUnavailable, MsgEndpointUnavailable, productID)
	}
	if found, err := t.store.Get(key, nil); err != nil {
		t.log.Warn("tracked view lookup failed", logger.Int("product_id", productID), logger.Error(err))
	} else if found {
		t.mu.Unlock()
		return t.skip(outcomeCached, MsgAlreadyTracked, productID)
	}
	if _, busy := t.pending[productID]; busy {
		t.mu.Unlock()
		return t.skip(outcomeInProgress, MsgInProgress, productID)
	}
	t.pending[productID] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, productID)
		t.mu.Unlock()
	}()

	start := time.Now()
	res, err := httpclient.CallWithTimeout(ctx, t.cfg.CallTimeout, func(ctx context.Context) (Result, error) {
		return t.remote(ctx, productID)
	})
	t.metrics.RecordDuration(metrics.OpViewTrack, time.Since(start).Seconds())

	if err != nil {
		return t.handleFailure(productID, err)
	}

	if !res.Tracked {
		t.metrics.RecordOperation(metrics.OpViewTrack, outcomeNotTracked)
		t.log.Debug("view not tracked by server",
			logger.Int("product_id", productID),
			logger.String("message", res.Message))
		return res
	}

	if err := t.store.Set(key, true); err != nil {
		t.log.Warn("failed to persist tracked view", logger.Int("product_id", productID), logger.Error(err))
	}
	t.metrics.RecordOperation(metrics.OpViewTrack, outcomeTracked)
	t.log.Debug("view tracked", logger.Int("product_id", productID))
	return res
}

func (t *Tracker) skip(outcome, message string, productID int) Result {
	t.metrics.RecordOperation(metrics.OpViewTrack, outcome)
	t.log.Trace("view tracking skipped",
		logger.Int("product_id", productID),
		logger.String("reason", message))
	return Result{Tracked: false, Message: message}
}

func (t *Tracker) handleFailure(productID int, err error) Result {
	if httpclient.IsEndpointUnavailable(err) {
		t.markEndpointFailed(t.cfg.Endpoint)
		t.metrics.RecordOperation(metrics.OpViewTrack, outcomeUnavailable)
		t.metrics.RecordError(metrics.OpViewTrack, string(errors.CategoryNotFound))
		t.log.Warn("tracking endpoint unavailable, disabling until reset",
			logger.String("endpoint", t.cfg.Endpoint),
			logger.Int("product_id", productID),
			logger.Error(err))
		return Result{Tracked: false, Message: MsgEndpointUnavailable}
	}

	outcome := outcomeFailed
	if errors.Is(err, httpclient.ErrCallTimeout) {
		outcome = outcomeTimeout
	}
	t.metrics.RecordOperation(metrics.OpViewTrack, outcome)
	t.metrics.RecordError(metrics.OpViewTrack, errorCategory(err))
	t.log.Debug("view tracking failed",
		logger.Int("product_id", productID),
		logger.Error(err))
	return Result{Tracked: false, Message: MsgFailed}
}

func errorCategory(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}

func (t *Tracker) markEndpointFailed(endpoint string) {
	t.mu.Lock()
	t.failed[endpoint] = struct{}{}
	t.mu.Unlock()
	if err := t.store.Set(failedPrefix+endpoint, true); err != nil {
		t.log.Warn("failed to persist endpoint failure", logger.String("endpoint", endpoint), logger.Error(err))
	}
}

func (t *Tracker) restoreFailedEndpoints() {
	keys, err := t.store.Keys(failedPrefix)
	if err != nil {
		t.log.Warn("failed to restore endpoint failures", logger.Error(err))
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		t.failed[k[len(failedPrefix):]] = struct{}{}
	}
}

// CheckRollover purges the tracked segment when the stored day marker
// differs from today and reports whether it did.
func (t *Tracker) CheckRollover() bool {
	today := t.today()

	var last string
	if _, err := t.store.Get(lastCacheDateKey, &last); err != nil {
		t.log.Warn("failed to read cache date marker", logger.Error(err))
	}
	if last == today {
		return false
	}

	t.mu.Lock()
	removed, err := t.store.RemovePrefix(trackedPrefix)
	t.mu.Unlock()
	if err != nil {
		t.log.Warn("failed to purge tracked views", logger.Error(err))
		return false
	}
	if err := t.store.Set(lastCacheDateKey, today); err != nil {
		t.log.Warn("failed to update cache date marker", logger.Error(err))
	}

	if last != "" {
		t.log.Info("daily view cache rollover",
			logger.String("previous", last),
			logger.String("today", today),
			logger.Int("removed", removed))
	}
	return true
}

// Start runs CheckRollover every RolloverInterval until ctx is done or
// Stop is called. Calling Start twice is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()
	if t.stopLoop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.stopLoop = cancel
	t.loopDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(t.cfg.RolloverInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.CheckRollover()
			}
		}
	}(t.loopDone)
}

// Stop ends the rollover loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.loopMu.Lock()
	cancel, done := t.stopLoop, t.loopDone
	t.stopLoop, t.loopDone = nil, nil
	t.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Reset clears tracked views and failed endpoints. In-flight calls keep
// their pending markers until they settle.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failed = make(map[string]struct{})
	if _, err := t.store.RemovePrefix(failedPrefix); err != nil {
		return fmt.Errorf("reset failed endpoints: %w", err)
	}
	if _, err := t.store.RemovePrefix(trackedPrefix); err != nil {
		return fmt.Errorf("reset tracked views: %w", err)
	}
	t.log.Info("view tracker reset")
	return nil
}

// Stats is a snapshot of tracker state.
type Stats struct {
	Pending         int
	FailedEndpoints []string
	TrackedToday    int
}

// Stats returns a snapshot of tracker state.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	s := Stats{Pending: len(t.pending)}
	for ep := range t.failed {
		s.FailedEndpoints = append(s.FailedEndpoints, ep)
	}
	t.mu.Unlock()

	keys, err := t.store.Keys(trackedPrefix + t.today() + ":")
	if err == nil {
		s.TrackedToday = len(keys)
	}
	return s
}
