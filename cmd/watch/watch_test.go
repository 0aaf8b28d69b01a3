package watch

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storefront/internal/app"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/mockbackend"
	"github.com/tphakala/storefront/internal/notification"
	"github.com/tphakala/storefront/internal/store"
	"github.com/tphakala/storefront/internal/testutil"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchPrintsPushedNotifications(t *testing.T) {
	t.Parallel()

	backend, err := mockbackend.New(&conf.MockBackendSettings{JWTSecret: "watch", Email: "a@b.c", Password: "pw"},
		mockbackend.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	ts := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		_ = backend.Shutdown()
		ts.Close()
	})

	settings := &conf.Settings{
		API: conf.APISettings{BaseURL: ts.URL + "/api", Timeout: 5 * time.Second},
		Realtime: conf.RealtimeSettings{
			Enabled:          true,
			URL:              "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
			HandshakeTimeout: 2 * time.Second,
		},
	}
	a, err := app.New(settings, app.WithDurableStore(store.NewSessionStore()), app.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Login(t.Context(), "a@b.c", "pw"))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- run(ctx, a, out, strings.NewReader("r\n")) }()

	require.Eventually(t, func() bool {
		backend.EmitOrderStatus("1", &notification.OrderStatusEvent{OrderID: 4, Status: "DELIVERED"})
		time.Sleep(50 * time.Millisecond)
		return strings.Contains(out.String(), "[SUCCESS]")
	}, 5*time.Second, 100*time.Millisecond)

	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "[realtime] connected") },
		time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, testutil.Receive(t, done, testutil.DefaultTestTimeout))
}

func TestWatchRequiresLogin(t *testing.T) {
	t.Parallel()

	a, err := app.New(&conf.Settings{
		API:      conf.APISettings{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second},
		Realtime: conf.RealtimeSettings{Enabled: true, URL: "ws://127.0.0.1:1/ws"},
	}, app.WithDurableStore(store.NewSessionStore()), app.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	err = run(t.Context(), a, &syncBuffer{}, nil)
	require.ErrorContains(t, err, "not logged in")
}
