package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

type fakeCred struct{ token, subject string }

func (c fakeCred) Token() string   { return c.token }
func (c fakeCred) Subject() string { return c.subject }

type fakeConn struct {
	h Handler

	mu     sync.Mutex
	sent   []Envelope
	closed bool
}

func (c *fakeConn) Emit(event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.sent = append(c.sent, Envelope{Event: event, Data: data})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) push(event, payload string) {
	c.h.OnEvent(event, json.RawMessage(payload))
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	connects int
	conns    []*fakeConn
	creds    []Credentials
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Connect(_ context.Context, creds Credentials, h Handler) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.creds = append(t.creds, creds)
	if t.failures > 0 {
		t.failures--
		return nil, errors.NewStd("connection refused")
	}
	c := &fakeConn{h: h}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

type recordingObserver struct {
	mu         sync.Mutex
	states     []int
	events     []string
	reconnects int
}

func (o *recordingObserver) SetRealtimeState(s int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) RecordRealtimeEvent(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) RecordReconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects++
}

func newTestBridge(t *testing.T, tr Transport, cfg Config, opts ...Option) *Bridge {
	t.Helper()
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Millisecond
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 20 * time.Millisecond
	}
	opts = append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)
	b := NewBridge(tr, fakeCred{token: "tok", subject: "7"}, cfg, opts...)
	t.Cleanup(b.Disconnect)
	return b
}

func TestBridgeDispatchesInArrivalOrder(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	obs := &recordingObserver{}
	b := newTestBridge(t, tr, Config{}, WithObserver(obs))

	var got []string
	b.On(EventOrderStatusUpdate, func(p json.RawMessage) { got = append(got, string(p)) })

	require.NoError(t, b.Connect(t.Context()))
	assert.True(t, b.IsConnected())
	assert.Equal(t, Credentials{Token: "tok", Subject: "7"}, tr.creds[0])

	c := tr.conn(0)
	c.push(EventOrderStatusUpdate, `{"orderId":1,"status":"SHIPPED"}`)
	c.push(EventNewOrder, `{"orderId":2}`)
	c.push(EventOrderStatusUpdate, `{"orderId":1,"status":"DELIVERED"}`)

	assert.Equal(t, []string{
		`{"orderId":1,"status":"SHIPPED"}`,
		`{"orderId":1,"status":"DELIVERED"}`,
	}, got)
	assert.Equal(t, []string{EventOrderStatusUpdate, EventNewOrder, EventOrderStatusUpdate}, obs.events)
	assert.Equal(t, []int{int(StateConnecting), int(StateConnected)}, obs.states)
}

func TestBridgeUnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Config{})

	var first, second int
	unsubFirst := b.On(EventNotification, func(json.RawMessage) { first++ })
	b.On(EventNotification, func(json.RawMessage) { second++ })

	require.NoError(t, b.Connect(t.Context()))
	c := tr.conn(0)

	c.push(EventNotification, `{}`)
	unsubFirst()
	unsubFirst()
	c.push(EventNotification, `{}`)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestBridgeSubscriberPanicDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Config{})

	delivered := 0
	b.On(EventOrderCancelled, func(json.RawMessage) { panic("boom") })
	b.On(EventOrderCancelled, func(json.RawMessage) { delivered++ })

	require.NoError(t, b.Connect(t.Context()))
	tr.conn(0).push(EventOrderCancelled, `{"orderId":3}`)
	tr.conn(0).push(EventOrderCancelled, `{"orderId":4}`)

	assert.Equal(t, 2, delivered)
}

func TestBridgeConnectRequiresCredential(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := NewBridge(tr, fakeCred{}, Config{}, WithLogger(logger.NewDiscardLogger()))

	err := b.Connect(t.Context())
	require.ErrorIs(t, err, ErrNoCredential)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthentication))
	assert.Zero(t, tr.connectCount())
	assert.Equal(t, StateDisconnected, b.State())
}

func TestBridgeHandshakeFailureWithoutAutoConnect(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{failures: 1}
	b := newTestBridge(t, tr, Config{})

	err := b.Connect(t.Context())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, b.State())
	require.Error(t, b.ConnectionError())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.connectCount(), "no automatic retry")

	require.NoError(t, b.Connect(t.Context()))
	assert.True(t, b.IsConnected())
	assert.NoError(t, b.ConnectionError())
}

func TestBridgeAutoConnectRetriesHandshake(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{failures: 2}
	obs := &recordingObserver{}
	b := newTestBridge(t, tr, Config{AutoConnect: true}, WithObserver(obs))

	require.Error(t, b.Connect(t.Context()))

	require.Eventually(t, b.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, tr.connectCount())

	obs.mu.Lock()
	assert.Equal(t, 2, obs.reconnects)
	obs.mu.Unlock()
}

func TestBridgeReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Config{})

	var mu sync.Mutex
	var states []State
	b.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	var payloads []string
	b.On(EventOrderStatusUpdate, func(p json.RawMessage) { payloads = append(payloads, string(p)) })

	require.NoError(t, b.Connect(t.Context()))
	old := tr.conn(0)
	old.h.OnClose(errors.NewStd("connection reset"))

	require.Eventually(t, func() bool { return tr.conn(1) != nil && b.IsConnected() }, time.Second, 5*time.Millisecond)

	old.push(EventOrderStatusUpdate, `{"orderId":1}`)
	tr.conn(1).push(EventOrderStatusUpdate, `{"orderId":2}`)
	assert.Equal(t, []string{`{"orderId":2}`}, payloads, "events from a superseded connection are dropped")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}, states)
}

func TestBridgeDisconnectStopsReconnectLoop(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Config{})

	require.NoError(t, b.Connect(t.Context()))
	tr.mu.Lock()
	tr.failures = 1000
	tr.mu.Unlock()

	tr.conn(0).h.OnClose(errors.NewStd("eof"))
	assert.Equal(t, StateReconnecting, b.State())
	require.Error(t, b.ConnectionError())

	b.Disconnect()
	assert.Equal(t, StateDisconnected, b.State())
	assert.NoError(t, b.ConnectionError())

	n := tr.connectCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, tr.connectCount())
}

func TestBridgeSendMessage(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Config{})

	assert.False(t, b.SendMessage("ping", nil), "not connected")

	require.NoError(t, b.Connect(t.Context()))
	assert.True(t, b.SendMessage("subscribeOrder", map[string]int{"orderId": 5}))

	c := tr.conn(0)
	require.Len(t, c.sent, 1)
	assert.Equal(t, "subscribeOrder", c.sent[0].Event)
	assert.JSONEq(t, `{"orderId":5}`, string(c.sent[0].Data))

	b.Disconnect()
	assert.True(t, c.isClosed())
	assert.False(t, b.SendMessage("subscribeOrder", nil))
}

func TestBridgeConnectIsNoOpWhenConnected(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := newTestBridge(t, tr, Config{})

	require.NoError(t, b.Connect(t.Context()))
	require.NoError(t, b.Connect(t.Context()))
	assert.Equal(t, 1, tr.connectCount())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
