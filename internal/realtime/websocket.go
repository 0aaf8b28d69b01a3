package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendQueueSize  = 64
)

// WebSocketTransport connects to a websocket endpoint. The token is sent both
// as a bearer header and as the "token" query parameter, since browsers
// cannot set headers on websocket upgrades and servers commonly read either.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
	log    logger.Logger
}

// NewWebSocketTransport creates a transport for rawURL (ws:// or wss://).
func NewWebSocketTransport(rawURL string) *WebSocketTransport {
	return &WebSocketTransport{
		URL:    rawURL,
		Dialer: websocket.DefaultDialer,
		log:    logger.Global().Module("realtime"),
	}
}

// Name implements Transport.
func (t *WebSocketTransport) Name() string { return "websocket" }

// Connect implements Transport.
func (t *WebSocketTransport) Connect(ctx context.Context, creds Credentials, h Handler) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid realtime url: %w", err)).
			Component("realtime").
			Category(errors.CategoryConfiguration).
			Context("url", t.URL).
			Build()
	}
	header := http.Header{}
	for k, v := range t.Header {
		header[k] = append([]string(nil), v...)
	}
	if creds.Token != "" {
		q := u.Query()
		q.Set("token", creds.Token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+creds.Token)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		b := errors.New(fmt.Errorf("websocket dial: %w", err)).
			Component("realtime").
			Category(errors.CategoryNetwork)
		if resp != nil {
			b = b.Context("status", resp.StatusCode)
			if resp.StatusCode == http.StatusUnauthorized {
				b = b.Category(errors.CategoryAuthentication)
			}
		}
		return nil, b.Build()
	}

	c := &wsConn{
		ws:   ws,
		h:    h,
		log:  t.log,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	if c.log == nil {
		c.log = logger.Global().Module("realtime")
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

type wsConn struct {
	ws  *websocket.Conn
	h   Handler
	log logger.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// Emit implements Conn.
func (c *wsConn) Emit(event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return errors.New(err).
			Component("realtime").
			Category(errors.CategoryValidation).
			Context("event", event).
			Build()
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close implements Conn. It must not be called from an OnEvent callback.
func (c *wsConn) Close() error {
	c.shutdown(true, nil)
	c.wg.Wait()
	return nil
}

// shutdown tears the connection down once. OnClose fires only for remote or
// network-initiated closes.
func (c *wsConn) shutdown(local bool, cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		if local {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
		}
		_ = c.ws.Close()

		if !local && c.h.OnClose != nil {
			c.h.OnClose(cause)
		}
	})
}

func (c *wsConn) readLoop() {
	defer c.wg.Done()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.shutdown(false, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

func (c *wsConn) handle(data []byte) {
	if !gjson.ValidBytes(data) {
		c.log.Debug("dropping malformed realtime frame", logger.Int("size", len(data)))
		return
	}
	event := gjson.GetBytes(data, "event")
	if event.Type != gjson.String || event.Str == "" {
		c.log.Debug("dropping realtime frame without event name")
		return
	}
	payload := json.RawMessage("null")
	if d := gjson.GetBytes(data, "data"); d.Exists() {
		payload = json.RawMessage(d.Raw)
	}
	if c.h.OnEvent != nil {
		c.h.OnEvent(event.Str, payload)
	}
}

func (c *wsConn) writeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown(false, err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown(false, err)
				return
			}
		}
	}
}
