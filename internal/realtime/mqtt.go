package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

const (
	mqttQoS               = 1
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttOutboundSegment   = "client"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker string
	// Topic is the prefix; inbound events arrive on <Topic>/<subject>/<event>
	// and outbound events are published to <Topic>/<subject>/client/<event>.
	Topic    string
	ClientID string
	Username string
	// Password defaults to the bearer token when empty
	Password string
}

// MQTTTransport receives events from an MQTT broker.
type MQTTTransport struct {
	cfg       MQTTConfig
	log       logger.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTTransport creates an MQTT transport.
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	cfg.Topic = strings.Trim(cfg.Topic, "/")
	return &MQTTTransport{
		cfg:       cfg,
		log:       logger.Global().Module("realtime"),
		newClient: mqtt.NewClient,
	}
}

// Name implements Transport.
func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) userTopic(subject string) string {
	if t.cfg.Topic == "" {
		return subject
	}
	return t.cfg.Topic + "/" + subject
}

// Connect implements Transport. The broker session does not reconnect on its
// own; the bridge owns retries.
func (t *MQTTTransport) Connect(ctx context.Context, creds Credentials, h Handler) (Conn, error) {
	if creds.Subject == "" {
		return nil, errors.Newf("mqtt transport requires a token subject").
			Component("realtime").
			Category(errors.CategoryAuthentication).
			Build()
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "storefront-" + uuid.NewString()[:8]
	}
	password := t.cfg.Password
	if password == "" {
		password = creds.Token
	}
	username := t.cfg.Username
	if username == "" {
		username = creds.Subject
	}

	c := &mqttConn{
		h:    h,
		base: t.userTopic(creds.Subject),
		log:  t.log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	if deadline, ok := ctx.Deadline(); ok {
		opts.SetConnectTimeout(time.Until(deadline))
	}

	c.client = t.newClient(opts)
	if err := waitToken(ctx, c.client.Connect()); err != nil {
		return nil, errors.New(fmt.Errorf("mqtt connect: %w", err)).
			Component("realtime").
			Category(errors.CategoryNetwork).
			Context("broker", t.cfg.Broker).
			Build()
	}

	filter := c.base + "/+"
	if err := waitToken(ctx, c.client.Subscribe(filter, mqttQoS, c.onMessage)); err != nil {
		c.client.Disconnect(mqttDisconnectQuiesce)
		return nil, errors.New(fmt.Errorf("mqtt subscribe %s: %w", filter, err)).
			Component("realtime").
			Category(errors.CategoryNetwork).
			Build()
	}

	t.log.Debug("mqtt subscribed", logger.String("filter", filter))
	return c, nil
}

// waitToken blocks until tok completes or ctx is done.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttConn struct {
	client mqtt.Client
	h      Handler
	base   string
	log    logger.Logger

	mu     sync.Mutex
	closed bool
}

// eventFromTopic returns the last topic segment when topic is a direct child
// of base.
func eventFromTopic(base, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (c *mqttConn) onMessage(_ mqtt.Client, msg mqtt.Message) {
	event, ok := eventFromTopic(c.base, msg.Topic())
	if !ok {
		return
	}
	payload := msg.Payload()
	if len(payload) == 0 {
		payload = []byte("null")
	}
	if !json.Valid(payload) {
		c.log.Debug("dropping malformed mqtt payload", logger.String("topic", msg.Topic()))
		return
	}
	if c.h.OnEvent != nil {
		c.h.OnEvent(event, json.RawMessage(payload))
	}
}

func (c *mqttConn) onConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.h.OnClose != nil {
		c.h.OnClose(err)
	}
}

// Emit implements Conn. Publishing is fire-and-forget.
func (c *mqttConn) Emit(event string, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	if data == nil {
		data = json.RawMessage("null")
	}
	c.client.Publish(c.base+"/"+mqttOutboundSegment+"/"+event, mqttQoS, false, []byte(data))
	return nil
}

// Close implements Conn.
func (c *mqttConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}
