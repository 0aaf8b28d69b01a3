package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (t fakeToken) Wait() bool            { return true }
func (t fakeToken) Done() <-chan struct{} { ch := make(chan struct{}); close(ch); return ch }
func (t fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeMQTTClient records calls; methods the transport never uses are left
// to the embedded nil interface.
type fakeMQTTClient struct {
	mqtt.Client

	opts       *mqtt.ClientOptions
	connectErr error

	mu           sync.Mutex
	filter       string
	handler      mqtt.MessageHandler
	published    map[string][]byte
	disconnected bool
}

func (c *fakeMQTTClient) Connect() mqtt.Token { return fakeToken{err: c.connectErr} }

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = topic
	c.handler = cb
	return fakeToken{}
}

func (c *fakeMQTTClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = make(map[string][]byte)
	}
	c.published[topic] = payload.([]byte)
	return fakeToken{}
}

func (c *fakeMQTTClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeMQTTClient) deliver(topic, payload string) {
	c.handler(c, fakeMessage{topic: topic, payload: []byte(payload)})
}

func newFakeMQTTTransport(cfg MQTTConfig, client *fakeMQTTClient) *MQTTTransport {
	tr := NewMQTTTransport(cfg)
	tr.log = logger.NewDiscardLogger()
	tr.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}
	return tr
}

func TestEventFromTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		event string
		ok    bool
	}{
		{"shop/users/7/orderStatusUpdate", "orderStatusUpdate", true},
		{"shop/users/7/client/ping", "", false},
		{"shop/users/8/orderStatusUpdate", "", false},
		{"shop/users/7/", "", false},
	}
	for _, tt := range tests {
		event, ok := eventFromTopic("shop/users/7", tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.event, event, tt.topic)
	}
}

func TestMQTTTransportConnect(t *testing.T) {
	t.Parallel()

	client := &fakeMQTTClient{}
	tr := newFakeMQTTTransport(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "/shop/users/"}, client)

	var events []string
	var payloads []string
	conn, err := tr.Connect(t.Context(), Credentials{Token: "tok", Subject: "7"}, Handler{
		OnEvent: func(event string, payload json.RawMessage) {
			events = append(events, event)
			payloads = append(payloads, string(payload))
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "shop/users/7/+", client.filter)
	assert.Equal(t, "7", client.opts.Username)
	assert.Equal(t, "tok", client.opts.Password)
	assert.False(t, client.opts.AutoReconnect)
	assert.Contains(t, client.opts.ClientID, "storefront-")

	client.deliver("shop/users/7/orderStatusUpdate", `{"orderId":1,"status":"SHIPPED"}`)
	client.deliver("shop/users/7/notification", `garbage`)
	client.deliver("shop/users/7/newOrder", ``)

	assert.Equal(t, []string{EventOrderStatusUpdate, EventNewOrder}, events)
	assert.Equal(t, []string{`{"orderId":1,"status":"SHIPPED"}`, "null"}, payloads)

	require.NoError(t, conn.Emit("ack", map[string]int{"orderId": 1}))
	assert.JSONEq(t, `{"orderId":1}`, string(client.published["shop/users/7/client/ack"]))

	require.NoError(t, conn.Close())
	assert.True(t, client.disconnected)
	assert.ErrorIs(t, conn.Emit("ack", nil), ErrNotConnected)
}

func TestMQTTTransportConnectionLost(t *testing.T) {
	t.Parallel()

	client := &fakeMQTTClient{}
	tr := newFakeMQTTTransport(MQTTConfig{Topic: "shop"}, client)

	lost := 0
	_, err := tr.Connect(t.Context(), Credentials{Token: "tok", Subject: "7"}, Handler{
		OnClose: func(error) { lost++ },
	})
	require.NoError(t, err)

	client.opts.OnConnectionLost(client, errors.NewStd("broker gone"))
	client.opts.OnConnectionLost(client, errors.NewStd("broker gone"))
	assert.Equal(t, 1, lost)
}

func TestMQTTTransportErrors(t *testing.T) {
	t.Parallel()

	t.Run("requires subject", func(t *testing.T) {
		t.Parallel()
		tr := newFakeMQTTTransport(MQTTConfig{}, &fakeMQTTClient{})
		_, err := tr.Connect(t.Context(), Credentials{Token: "opaque"}, Handler{})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryAuthentication))
	})

	t.Run("connect failure", func(t *testing.T) {
		t.Parallel()
		client := &fakeMQTTClient{connectErr: errors.NewStd("not authorized")}
		tr := newFakeMQTTTransport(MQTTConfig{}, client)
		_, err := tr.Connect(t.Context(), Credentials{Token: "tok", Subject: "7"}, Handler{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not authorized")
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := waitToken(ctx, pendingToken{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type pendingToken struct{ mqtt.Token }

func (pendingToken) Done() <-chan struct{} { return make(chan struct{}) }
