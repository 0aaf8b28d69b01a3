package notification

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/httpclient"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/observability/metrics"
	"github.com/tphakala/storefront/internal/realtime"
	"github.com/tphakala/storefront/internal/store"
)

// Remote is the backend notification API.
type Remote interface {
	List(ctx context.Context) ([]*Notification, error)
	MarkRead(ctx context.Context, id int) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id int) error
}

// EventSource delivers realtime events. *realtime.Bridge satisfies it.
type EventSource interface {
	On(event string, fn func(payload json.RawMessage)) (unsubscribe func())
}

// Observer receives list telemetry. *metrics.StorefrontMetrics satisfies it.
type Observer interface {
	SetUnreadNotifications(n int)
	RecordNotificationReceived(source string, n int)
}

type nopObserver struct{}

func (nopObserver) SetUnreadNotifications(int)             {}
func (nopObserver) RecordNotificationReceived(string, int) {}

// Subscriber represents a notification subscriber
type Subscriber struct {
	ch     chan *Notification
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds Center settings.
type Config struct {
	// Max bounds the list, DefaultMaxNotifications when zero
	Max         int
	CallTimeout time.Duration
}

// Center holds the user's notification list, newest first. Entries are
// merged by id whether they arrive from a fetch or a push; new entries are
// broadcast to subscribers exactly once. Safe for concurrent use.
type Center struct {
	remote   Remote
	store    store.Store
	cfg      Config
	log      logger.Logger
	metrics  metrics.Recorder
	observer Observer
	now      func() time.Time

	mu          sync.RWMutex
	items       []*Notification
	nextLocalID int

	subscribers   []*Subscriber
	subscribersMu sync.RWMutex

	detachMu sync.Mutex
	detach   []func()

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Center.
type Option func(*Center)

// WithRecorder sets the metrics recorder for remote calls.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Center) { c.metrics = metrics.OrNop(r) }
}

// WithObserver sets the list telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *Center) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Center) { c.log = l }
}

// WithClock overrides time.Now for timestamps of locally built entries.
func WithClock(now func() time.Time) Option {
	return func(c *Center) { c.now = now }
}

// NewCenter creates a Center. When st is non-nil the list is backed up to it
// after every change and restored here.
func NewCenter(remote Remote, st store.Store, cfg Config, opts ...Option) *Center {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxNotifications
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Center{
		remote:      remote,
		store:       st,
		cfg:         cfg,
		log:         logger.Global().Module("notification"),
		metrics:     metrics.NopRecorder{},
		observer:    nopObserver{},
		now:         time.Now,
		nextLocalID: -1,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.restore()
	return c
}

// restore loads the durable backup.
func (c *Center) restore() {
	if c.store == nil {
		return
	}
	var items []*Notification
	found, err := c.store.Get(backupKey, &items)
	if err != nil {
		c.log.Warn("failed to restore notification backup", logger.Error(err))
		return
	}
	if !found {
		return
	}

	c.mu.Lock()
	c.items = items
	c.truncateLocked()
	for _, n := range c.items {
		if n.ID <= c.nextLocalID {
			c.nextLocalID = n.ID - 1
		}
	}
	unread := c.unreadLocked()
	c.mu.Unlock()

	c.observer.SetUnreadNotifications(unread)
	c.log.Debug("notification backup restored", logger.Int("count", len(items)))
}

// backup persists the list. Called without c.mu held.
func (c *Center) backup() {
	if c.store == nil {
		return
	}
	items := c.Notifications()
	if err := c.store.Set(backupKey, items); err != nil {
		c.log.Warn("failed to back up notifications", logger.Error(err))
	}
}

// changed runs after every list mutation.
func (c *Center) changed() {
	c.observer.SetUnreadNotifications(c.UnreadCount())
	c.backup()
}

// Notifications returns a copy of the list, newest first.
func (c *Center) Notifications() []*Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Notification, len(c.items))
	for i, n := range c.items {
		out[i] = n.Clone()
	}
	return out
}

// Get returns a copy of the entry with id.
func (c *Center) Get(id int) (*Notification, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i].Clone(), nil
	}
	return nil, ErrNotificationNotFound
}

// UnreadCount returns the number of unread entries.
func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unreadLocked()
}

func (c *Center) unreadLocked() int {
	n := 0
	for _, item := range c.items {
		if !item.Read {
			n++
		}
	}
	return n
}

func (c *Center) indexLocked(id int) int {
	return slices.IndexFunc(c.items, func(n *Notification) bool { return n.ID == id })
}

func (c *Center) truncateLocked() {
	if len(c.items) > c.cfg.Max {
		clear(c.items[c.cfg.Max:])
		c.items = c.items[:c.cfg.Max]
	}
}

// Refresh replaces the list with the server's, keeping local entries whose
// order no server entry covers. Read state is monotonic: an entry already
// read locally stays read even if the server still reports it unread.
func (c *Center) Refresh(ctx context.Context) error {
	server, err := callRemote(ctx, c, metrics.OpNotificationRefresh, c.remote.List)
	if err != nil {
		c.log.Warn("notification refresh failed", logger.Error(err))
		return err
	}

	covered := make(map[int]bool)
	for _, n := range server {
		if n != nil && n.OrderID != nil {
			covered[*n.OrderID] = true
		}
	}

	c.mu.Lock()
	read := make(map[int]bool)
	var local []*Notification
	for _, n := range c.items {
		if n.Read {
			read[n.ID] = true
		}
		if n.IsLocal() && (n.OrderID == nil || !covered[*n.OrderID]) {
			local = append(local, n)
		}
	}

	merged := make([]*Notification, 0, len(server)+len(local))
	seen := make(map[int]bool, len(server))
	for _, n := range server {
		if n == nil || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		n = n.Clone()
		n.Read = n.Read || read[n.ID]
		merged = append(merged, n)
	}
	merged = append(merged, local...)
	slices.SortStableFunc(merged, newestFirst)

	c.items = merged
	c.truncateLocked()
	count := len(c.items)
	c.mu.Unlock()

	c.observer.RecordNotificationReceived(sourceFetch, len(server))
	c.changed()
	c.log.Debug("notifications refreshed",
		logger.Int("server", len(server)),
		logger.Int("local", len(local)),
		logger.Int("total", count))
	return nil
}

func newestFirst(a, b *Notification) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// Add merges n into the list. A new id is prepended and broadcast; a known
// id is updated in place without a broadcast. The stored entry is returned.
func (c *Center) Add(n *Notification) *Notification {
	if n == nil {
		return nil
	}
	n = n.Clone()

	c.mu.Lock()
	if n.ID == 0 {
		n.ID = c.nextLocalID
		c.nextLocalID--
	}
	if i := c.indexLocked(n.ID); i >= 0 {
		n.Read = n.Read || c.items[i].Read
		c.items[i] = n
		c.mu.Unlock()
		c.changed()
		return n.Clone()
	}
	c.items = slices.Insert(c.items, 0, n)
	c.truncateLocked()
	c.mu.Unlock()

	c.observer.RecordNotificationReceived(sourcePush, 1)
	c.changed()
	c.broadcast(n)
	return n.Clone()
}

// HandleOrderStatus translates an order status event into a notification
// and merges it. Events carrying a notification id use it; others get a
// local negative id.
func (c *Center) HandleOrderStatus(ev *OrderStatusEvent) *Notification {
	if ev == nil || ev.OrderID <= 0 {
		return nil
	}
	return c.Add(FromOrderStatus(ev, ev.NotificationID, c.now()))
}

// MarkAsRead marks id read. An entry that is already read is left alone and
// no remote call is made. Local entries are only updated locally.
func (c *Center) MarkAsRead(ctx context.Context, id int) error {
	c.mu.RLock()
	i := c.indexLocked(id)
	var read, local bool
	if i >= 0 {
		read, local = c.items[i].Read, c.items[i].IsLocal()
	}
	c.mu.RUnlock()

	switch {
	case i < 0:
		return ErrNotificationNotFound
	case read:
		return nil
	}

	if !local {
		if _, err := callRemote(ctx, c, metrics.OpNotificationMutate, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.remote.MarkRead(ctx, id)
		}); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if i := c.indexLocked(id); i >= 0 {
		c.items[i].Read = true
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// MarkAllAsRead marks every entry read. The remote call is skipped when
// only local entries are unread.
func (c *Center) MarkAllAsRead(ctx context.Context) error {
	c.mu.RLock()
	needRemote := slices.ContainsFunc(c.items, func(n *Notification) bool { return !n.Read && !n.IsLocal() })
	c.mu.RUnlock()

	if needRemote {
		if _, err := callRemote(ctx, c, metrics.OpNotificationMutate, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.remote.MarkAllRead(ctx)
		}); err != nil {
			return err
		}
	}

	c.mu.Lock()
	for _, n := range c.items {
		n.Read = true
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// Delete removes id locally and, for server entries, remotely. A server 404
// still removes the local entry.
func (c *Center) Delete(ctx context.Context, id int) error {
	c.mu.RLock()
	i := c.indexLocked(id)
	c.mu.RUnlock()
	if i < 0 {
		return ErrNotificationNotFound
	}

	if id > 0 {
		_, err := callRemote(ctx, c, metrics.OpNotificationMutate, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.remote.Delete(ctx, id)
		})
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
	}

	c.mu.Lock()
	if i := c.indexLocked(id); i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// Clear empties the list and drops the backup, e.g. on logout.
func (c *Center) Clear() {
	c.mu.Lock()
	c.items = nil
	c.nextLocalID = -1
	c.mu.Unlock()

	c.observer.SetUnreadNotifications(0)
	if c.store != nil {
		if err := c.store.Remove(backupKey); err != nil {
			c.log.Warn("failed to remove notification backup", logger.Error(err))
		}
	}
}

// Attach subscribes the Center to order and notification events of src. The
// returned function detaches it.
func (c *Center) Attach(src EventSource) (detach func()) {
	orderEvents := []string{
		realtime.EventOrderStatusUpdate,
		realtime.EventNewOrder,
		realtime.EventOrderCancelled,
	}
	var unsubs []func()
	for _, event := range orderEvents {
		unsubs = append(unsubs, src.On(event, func(payload json.RawMessage) {
			c.handleOrderPayload(event, payload)
		}))
	}
	unsubs = append(unsubs, src.On(realtime.EventNotification, c.handleNotificationPayload))

	detachAll := func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
	c.detachMu.Lock()
	c.detach = append(c.detach, detachAll)
	c.detachMu.Unlock()
	return detachAll
}

func (c *Center) handleOrderPayload(event string, payload json.RawMessage) {
	var ev OrderStatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.log.Debug("dropping malformed order event", logger.String("event", event), logger.Error(err))
		return
	}
	if ev.Status == "" {
		switch event {
		case realtime.EventNewOrder:
			ev.Status = orderStatusPlaced
		case realtime.EventOrderCancelled:
			ev.Status = OrderStatusCancelled
		}
	}
	if n := c.HandleOrderStatus(&ev); n != nil {
		c.log.Debug("order event translated",
			logger.String("event", event),
			logger.Int("order_id", ev.OrderID),
			logger.Int("notification_id", n.ID))
	}
}

func (c *Center) handleNotificationPayload(payload json.RawMessage) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil || n.ID <= 0 {
		c.log.Debug("dropping malformed notification event", logger.Error(err))
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.now()
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	c.Add(&n)
}

// Subscribe returns a channel receiving every newly added notification and
// a context cancelled when the subscription ends.
// To unsubscribe, call Unsubscribe(ch)
func (c *Center) Subscribe() (<-chan *Notification, context.Context) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(c.ctx)
	sub := &Subscriber{
		ch:     make(chan *Notification, DefaultChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	c.subscribers = append(c.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes a notification channel
// It cancels the subscriber's context but does not close the channel
func (c *Center) Unsubscribe(ch <-chan *Notification) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()

	for i, sub := range c.subscribers {
		if sub.ch == ch {
			sub.cancel()
			c.subscribers = slices.Delete(c.subscribers, i, i+1)
			break
		}
	}
}

// broadcast sends a clone of n to every live subscriber without blocking.
func (c *Center) broadcast(n *Notification) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()

	active := c.subscribers[:0]
	for _, sub := range c.subscribers {
		if sub.ctx.Err() != nil {
			continue
		}
		active = append(active, sub)
		select {
		case sub.ch <- n.Clone():
		default:
			c.log.Debug("notification channel full, skipping subscriber",
				logger.Int("notification_id", n.ID))
		}
	}
	clear(c.subscribers[len(active):])
	c.subscribers = active
}

// Close detaches from event sources and ends all subscriptions.
func (c *Center) Close() {
	c.detachMu.Lock()
	detach := c.detach
	c.detach = nil
	c.detachMu.Unlock()
	for _, fn := range detach {
		fn()
	}

	c.cancel()
	c.subscribersMu.Lock()
	c.subscribers = nil
	c.subscribersMu.Unlock()
}

func callRemote[T any](ctx context.Context, c *Center, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := httpclient.CallWithTimeout(ctx, c.cfg.CallTimeout, fn)
	c.metrics.RecordDuration(op, time.Since(start).Seconds())
	switch {
	case err == nil:
		c.metrics.RecordOperation(op, metrics.StatusSuccess)
	case errors.Is(err, httpclient.ErrCallTimeout):
		c.metrics.RecordOperation(op, metrics.StatusTimeout)
	default:
		c.metrics.RecordOperation(op, metrics.StatusError)
		c.metrics.RecordError(op, errorType(err))
	}
	return v, err
}

func errorType(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
