package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
)

// ErrNoCredential is returned by Connect when no token is available.
var ErrNoCredential = errors.NewStd("realtime connect requires a credential")

// Credential supplies the token and subject used for the handshake.
// auth.Session satisfies it.
type Credential interface {
	Token() string
	Subject() string
}

// Observer receives connection telemetry. *metrics.StorefrontMetrics
// satisfies it.
type Observer interface {
	SetRealtimeState(state int)
	RecordRealtimeEvent(event string)
	RecordReconnect()
}

type nopObserver struct{}

func (nopObserver) SetRealtimeState(int)       {}
func (nopObserver) RecordRealtimeEvent(string) {}
func (nopObserver) RecordReconnect()           {}

// Config holds bridge settings.
type Config struct {
	// AutoConnect retries a failed initial handshake with backoff
	AutoConnect       bool
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
}

type subscription struct {
	id uint64
	fn func(payload json.RawMessage)
}

type stateSubscription struct {
	id uint64
	fn func(State)
}

// Bridge owns one realtime connection and its subscribers. Callbacks run on
// the transport's read goroutine, one at a time, in arrival order.
type Bridge struct {
	transport Transport
	cred      Credential
	cfg       Config
	log       logger.Logger
	observer  Observer

	mu       sync.Mutex
	state    State
	conn     Conn
	connErr  error
	gen      uint64
	loopStop context.CancelFunc
	loopDone chan struct{}

	// dispatching counts subscriber callbacks in progress
	dispatching atomic.Int32

	subMu     sync.RWMutex
	subs      map[string][]subscription
	stateSubs []stateSubscription
	nextSubID uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithObserver sets the telemetry observer.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// NewBridge creates a disconnected bridge.
func NewBridge(t Transport, cred Credential, cfg Config, opts ...Option) *Bridge {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(DefaultMaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	b := &Bridge{
		transport: t,
		cred:      cred,
		cfg:       cfg,
		log:       logger.Global().Module("realtime"),
		observer:  nopObserver{},
		subs:      make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsConnected reports whether the bridge is in the Connected state.
func (b *Bridge) IsConnected() bool {
	return b.State() == StateConnected
}

// ConnectionError returns the last handshake or transport error, nil after a
// successful connect or an explicit Disconnect.
func (b *Bridge) ConnectionError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connErr
}

// Connect performs the handshake. It is a no-op unless the bridge is
// Disconnected. On failure the bridge returns to Disconnected with the error
// recorded; with AutoConnect set a background loop keeps retrying.
func (b *Bridge) Connect(ctx context.Context) error {
	token := ""
	if b.cred != nil {
		token = b.cred.Token()
	}
	if token == "" {
		return errors.New(ErrNoCredential).
			Component("realtime").
			Category(errors.CategoryAuthentication).
			Build()
	}

	b.mu.Lock()
	if b.state != StateDisconnected {
		b.mu.Unlock()
		return nil
	}
	b.gen++
	gen := b.gen
	stop, done := b.loopStop, b.loopDone
	b.loopStop, b.loopDone = nil, nil
	b.setStateLocked(StateConnecting)
	b.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	b.notifyState(StateConnecting)

	err := b.attempt(ctx, gen)
	if err == nil {
		return nil
	}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return err
	}
	b.connErr = err
	b.setStateLocked(StateDisconnected)
	if b.cfg.AutoConnect {
		b.startLoopLocked(gen, StateConnecting)
	}
	b.mu.Unlock()
	b.notifyState(StateDisconnected)

	b.log.Warn("realtime handshake failed",
		logger.String("transport", b.transport.Name()),
		logger.Bool("auto_connect", b.cfg.AutoConnect),
		logger.Error(err))
	return err
}

// attempt runs one handshake for generation gen and installs the connection
// if gen is still current.
func (b *Bridge) attempt(ctx context.Context, gen uint64) error {
	hctx, cancel := context.WithTimeout(ctx, b.cfg.HandshakeTimeout)
	defer cancel()

	creds := Credentials{}
	if b.cred != nil {
		creds.Token = b.cred.Token()
		creds.Subject = b.cred.Subject()
	}

	conn, err := b.transport.Connect(hctx, creds, Handler{
		OnEvent: func(event string, payload json.RawMessage) { b.dispatch(gen, event, payload) },
		OnClose: func(err error) { b.dropped(gen, err) },
	})
	if err != nil {
		return errors.New(fmt.Errorf("%s handshake: %w", b.transport.Name(), err)).
			Component("realtime").
			Category(errors.CategoryRealtime).
			Build()
	}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		_ = conn.Close()
		return errors.New(fmt.Errorf("connection superseded")).
			Component("realtime").
			Category(errors.CategoryCancellation).
			Build()
	}
	b.conn = conn
	b.connErr = nil
	b.setStateLocked(StateConnected)
	b.mu.Unlock()
	b.notifyState(StateConnected)

	b.log.Info("realtime connected", logger.String("transport", b.transport.Name()))
	return nil
}

// dropped handles an unsolicited close of the connection for gen.
func (b *Bridge) dropped(gen uint64, err error) {
	b.mu.Lock()
	if b.gen != gen || b.state != StateConnected {
		b.mu.Unlock()
		return
	}
	// The replacement connection gets a new generation so late frames from
	// the dropped one are discarded.
	b.gen++
	b.conn = nil
	b.connErr = err
	b.setStateLocked(StateReconnecting)
	b.startLoopLocked(b.gen, StateReconnecting)
	b.mu.Unlock()
	b.notifyState(StateReconnecting)

	b.log.Warn("realtime connection lost", logger.Error(err))
}

// startLoopLocked launches the retry loop. phase is the state entered before
// each attempt.
func (b *Bridge) startLoopLocked(gen uint64, phase State) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.loopStop = cancel
	b.loopDone = done

	go func() {
		defer close(done)
		b.retryLoop(ctx, gen, phase)
	}()
}

func (b *Bridge) retryLoop(ctx context.Context, gen uint64, phase State) {
	delay := b.cfg.ReconnectDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		b.mu.Lock()
		if b.gen != gen {
			b.mu.Unlock()
			return
		}
		if b.state != phase {
			b.setStateLocked(phase)
			b.mu.Unlock()
			b.notifyState(phase)
		} else {
			b.mu.Unlock()
		}

		b.observer.RecordReconnect()
		err := b.attempt(ctx, gen)
		if err == nil {
			return
		}

		b.mu.Lock()
		if b.gen != gen {
			b.mu.Unlock()
			return
		}
		b.connErr = err
		var changed bool
		if phase == StateConnecting {
			changed = b.state != StateDisconnected
			b.setStateLocked(StateDisconnected)
		}
		b.mu.Unlock()
		if changed {
			b.notifyState(StateDisconnected)
		}

		delay = min(delay*2, b.cfg.MaxReconnectDelay)
		b.log.Debug("realtime retry failed",
			logger.Duration("next_attempt_in", delay),
			logger.Error(err))
		timer.Reset(delay)
	}
}

// Disconnect closes the connection, stops any retry loop and returns the
// bridge to Disconnected. Subscribers are kept. It may be called from an On
// callback; the connection is then closed after the callback returns.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	b.gen++
	conn := b.conn
	b.conn = nil
	b.connErr = nil
	stop, done := b.loopStop, b.loopDone
	b.loopStop, b.loopDone = nil, nil
	changed := b.state != StateDisconnected
	b.setStateLocked(StateDisconnected)
	b.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if conn != nil {
		if b.dispatching.Load() > 0 {
			// Closing waits for the read goroutine, which may be our caller
			go b.closeConn(conn)
		} else {
			b.closeConn(conn)
		}
	}
	if changed {
		b.notifyState(StateDisconnected)
		b.log.Info("realtime disconnected")
	}
}

func (b *Bridge) closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		b.log.Debug("realtime close failed", logger.Error(err))
	}
}

// SendMessage queues an outbound event. It returns false when the bridge is
// not connected or the transport refused the message; delivery is not
// confirmed.
func (b *Bridge) SendMessage(event string, payload any) bool {
	b.mu.Lock()
	conn := b.conn
	connected := b.state == StateConnected
	b.mu.Unlock()
	if !connected || conn == nil {
		return false
	}
	if err := conn.Emit(event, payload); err != nil {
		b.log.Debug("realtime send failed", logger.String("event", event), logger.Error(err))
		return false
	}
	return true
}

// On registers fn for event and returns a function removing exactly this
// registration. fn receives the raw JSON payload. fn may call Disconnect.
func (b *Bridge) On(event string, fn func(payload json.RawMessage)) (unsubscribe func()) {
	b.subMu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			list := b.subs[event]
			for i, s := range list {
				if s.id == id {
					b.subs[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[event]) == 0 {
				delete(b.subs, event)
			}
		})
	}
}

// OnStateChange registers fn for state transitions. fn runs synchronously
// on the goroutine causing the transition and must not call Connect or
// Disconnect.
func (b *Bridge) OnStateChange(fn func(State)) (unsubscribe func()) {
	b.subMu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.stateSubs = append(b.stateSubs, stateSubscription{id: id, fn: fn})
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			for i, s := range b.stateSubs {
				if s.id == id {
					b.stateSubs = append(b.stateSubs[:i:i], b.stateSubs[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bridge) dispatch(gen uint64, event string, payload json.RawMessage) {
	b.mu.Lock()
	current := b.gen == gen
	b.mu.Unlock()
	if !current {
		return
	}

	b.observer.RecordRealtimeEvent(event)

	b.subMu.RLock()
	list := append([]subscription(nil), b.subs[event]...)
	b.subMu.RUnlock()

	if len(list) == 0 {
		b.log.Trace("realtime event without subscribers", logger.String("event", event))
		return
	}
	b.dispatching.Add(1)
	defer b.dispatching.Add(-1)
	for _, s := range list {
		b.invoke(event, s.fn, payload)
	}
}

func (b *Bridge) invoke(event string, fn func(json.RawMessage), payload json.RawMessage) {
	defer b.recoverSubscriber(event)
	fn(payload)
}

func (b *Bridge) recoverSubscriber(event string) {
	if r := recover(); r != nil {
		b.log.Error("realtime subscriber panicked",
			logger.String("event", event),
			logger.Any("panic", r))
	}
}

func (b *Bridge) setStateLocked(s State) {
	b.state = s
	b.observer.SetRealtimeState(int(s))
}

func (b *Bridge) notifyState(s State) {
	b.subMu.RLock()
	list := append([]stateSubscription(nil), b.stateSubs...)
	b.subMu.RUnlock()

	for _, sub := range list {
		func() {
			defer b.recoverSubscriber("state")
			sub.fn(s)
		}()
	}
}
