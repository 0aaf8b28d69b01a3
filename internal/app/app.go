// Package app is the composition root: it builds every client component
// from settings, wires them together and owns their lifecycle.
package app

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/storefront/internal/api"
	"github.com/tphakala/storefront/internal/auth"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/httpclient"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/notification"
	"github.com/tphakala/storefront/internal/observability"
	"github.com/tphakala/storefront/internal/push"
	"github.com/tphakala/storefront/internal/realtime"
	"github.com/tphakala/storefront/internal/store"
	"github.com/tphakala/storefront/internal/viewtracker"
	"github.com/tphakala/storefront/internal/wishlist"
)

// sessionNamespace prefixes session-scoped keys in the durable store.
const sessionNamespace = "session:"

// ErrRealtimeDisabled is returned by StartRealtime when realtime is off.
var ErrRealtimeDisabled = errors.NewStd("realtime updates are disabled")

// App holds the wired client components. Fields are read-only after New.
type App struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics

	Session       *auth.Session
	API           *api.Client
	Tracker       *viewtracker.Tracker
	Wishlist      *wishlist.Synchronizer
	Bridge        *realtime.Bridge
	Notifications *notification.Center
	Push          *push.Forwarder

	log     logger.Logger
	http    *httpclient.Client
	durable store.Store
	session *store.SessionStore

	requestStarts sync.Map
	detach        func()
	closeOnce     sync.Once
}

type options struct {
	durable   store.Store
	transport http.RoundTripper
	realtime  realtime.Transport
	logger    logger.Logger
}

// Option customizes construction, mainly for tests.
type Option func(*options)

// WithDurableStore replaces the gorm-backed durable store.
func WithDurableStore(st store.Store) Option {
	return func(o *options) { o.durable = st }
}

// WithHTTPTransport replaces the HTTP round tripper.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRealtimeTransport replaces the transport chosen from settings.
func WithRealtimeTransport(t realtime.Transport) Option {
	return func(o *options) { o.realtime = t }
}

// WithLogger overrides the app logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds the application from settings.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Settings: settings, log: o.logger}
	if a.log == nil {
		a.log = logger.Global().Module("app")
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	a.Metrics = m
	rec := m.Storefront

	a.durable = o.durable
	if a.durable == nil {
		ds, err := store.OpenDurable(&settings.Store)
		if err != nil {
			return nil, err
		}
		a.durable = ds
	}
	a.session = store.NewSessionStore(store.WithBacking(a.durable, sessionNamespace))

	a.Session, err = auth.NewSession(a.durable, settings.Auth.TokenKey)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.http = httpclient.New(&httpclient.Config{
		BaseURL:        settings.API.BaseURL,
		DefaultTimeout: settings.API.Timeout,
		UserAgent:      settings.API.UserAgent,
		RateLimit:      settings.API.RateLimit,
		Burst:          settings.API.Burst,
		Tokens:         a.Session,
		Transport:      o.transport,
	})
	a.http.SetBeforeRequestHook(a.beforeRequest)
	a.http.SetAfterResponseHook(a.afterResponse)
	a.API = api.New(a.http)

	a.Tracker = viewtracker.New(a.session, a.Session, a.trackView, viewtracker.Config{
		Endpoint:         settings.ViewTracking.Endpoint,
		CallTimeout:      settings.ViewTracking.CallTimeout,
		RolloverInterval: settings.ViewTracking.RolloverInterval,
	}, viewtracker.WithRecorder(rec))

	a.Wishlist = wishlist.New(a.API.Wishlist, a.Session, a.session, wishlist.Config{
		CallTimeout:   settings.Wishlist.CallTimeout,
		CountDebounce: settings.Wishlist.CountDebounce,
	}, wishlist.WithRecorder(rec))

	a.Notifications = notification.NewCenter(a.API.Notifications, a.durable, notification.Config{
		Max:         settings.Notifications.Max,
		CallTimeout: settings.API.Timeout,
	}, notification.WithRecorder(rec), notification.WithObserver(rec))

	if settings.Realtime.Enabled {
		transport := o.realtime
		if transport == nil {
			transport = newTransport(&settings.Realtime)
		}
		a.Bridge = realtime.NewBridge(transport, a.Session, realtime.Config{
			AutoConnect:       settings.Realtime.AutoConnect,
			ReconnectDelay:    settings.Realtime.ReconnectDelay,
			MaxReconnectDelay: settings.Realtime.MaxReconnectDelay,
			HandshakeTimeout:  settings.Realtime.HandshakeTimeout,
		}, realtime.WithObserver(rec))
		a.detach = a.Notifications.Attach(a.Bridge)
	}

	if len(settings.Notifications.PushURLs) > 0 {
		a.Push, err = push.NewShoutrrr(settings.Notifications.PushURLs, push.WithRecorder(rec))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Session.OnChange(a.onAuthChange)

	a.log.Info("storefront client initialized",
		logger.String("api", settings.API.BaseURL),
		logger.Bool("realtime", a.Bridge != nil),
		logger.Bool("push", a.Push != nil),
		logger.Bool("authenticated", a.Session.IsAuthenticated()))
	return a, nil
}

// newTransport picks the realtime transport named in settings.
func newTransport(rs *conf.RealtimeSettings) realtime.Transport {
	if strings.EqualFold(rs.Transport, "mqtt") {
		return realtime.NewMQTTTransport(realtime.MQTTConfig{
			Broker:   rs.MQTT.Broker,
			Topic:    rs.MQTT.Topic,
			ClientID: rs.MQTT.ClientID,
			Username: rs.MQTT.Username,
			Password: rs.MQTT.Password,
		})
	}
	return realtime.NewWebSocketTransport(rs.URL)
}

// trackView adapts the products endpoint to the tracker's remote call.
func (a *App) trackView(ctx context.Context, productID int) (viewtracker.Result, error) {
	res, err := a.API.Products.TrackView(ctx, productID)
	if err != nil {
		return viewtracker.Result{}, err
	}
	return viewtracker.Result{Tracked: res.Tracked, Message: res.Message}, nil
}

func (a *App) beforeRequest(req *http.Request) {
	a.requestStarts.Store(req.Header.Get(httpclient.RequestIDHeader), time.Now())
}

func (a *App) afterResponse(req *http.Request, resp *http.Response, err error) {
	v, ok := a.requestStarts.LoadAndDelete(req.Header.Get(httpclient.RequestIDHeader))
	if !ok {
		return
	}
	status := 0
	if err == nil && resp != nil {
		status = resp.StatusCode
	}
	a.Metrics.Storefront.ObserveHTTPRequest(req.Method, status, time.Since(v.(time.Time)))
}

// onAuthChange ends the browsing session on login and logout: the
// session scope (tracked views, failed endpoints, wishlist flags) starts
// empty for the new credential. Logout also drops the realtime connection
// and the notification list.
func (a *App) onAuthChange(authenticated bool) {
	if !authenticated {
		if a.Bridge != nil {
			a.Bridge.Disconnect()
		}
		a.Notifications.Clear()
	}
	a.Wishlist.Clear()
	if err := a.Tracker.Reset(); err != nil {
		a.log.Warn("failed to reset view tracker", logger.Error(err))
	}
	if err := a.session.Flush(); err != nil {
		a.log.Warn("failed to clear session scope", logger.Error(err))
	}
	// restamp the day marker so the next process does not purge new views
	a.Tracker.CheckRollover()
}

// Login exchanges credentials for a token.
func (a *App) Login(ctx context.Context, email, password string) error {
	return a.Session.Login(ctx, a.API.Auth.Login, email, password)
}

// Logout drops the token and all per-user state.
func (a *App) Logout() error {
	return a.Session.Logout()
}

// StartRealtime connects the bridge. Notifications are already attached.
func (a *App) StartRealtime(ctx context.Context) error {
	if a.Bridge == nil {
		return ErrRealtimeDisabled
	}
	if !a.Session.IsAuthenticated() {
		return auth.ErrNotAuthenticated
	}
	return a.Bridge.Connect(ctx)
}

// Run starts the background loops (rollover check, push forwarding,
// metrics endpoint) and blocks until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Tracker.Start(ctx)
	defer a.Tracker.Stop()

	if a.Push != nil {
		g.Go(func() error {
			a.Push.Run(ctx, a.Notifications)
			return nil
		})
	}
	if a.Settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(a.Settings, a.Metrics)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// Close releases every component. Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.detach != nil {
			a.detach()
		}
		if a.Bridge != nil {
			a.Bridge.Disconnect()
		}
		if a.Tracker != nil {
			a.Tracker.Stop()
		}
		if a.Wishlist != nil {
			a.Wishlist.Close()
		}
		if a.Notifications != nil {
			a.Notifications.Close()
		}
		if a.http != nil {
			a.http.Close()
		}
		a.closeStores()
	})
}

func (a *App) closeStores() {
	if c, ok := a.durable.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("failed to close durable store", logger.Error(err))
		}
	}
}
