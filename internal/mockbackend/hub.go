package mockbackend

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/realtime"
)

const (
	wsWriteWait   = 5 * time.Second
	wsSendBuffer  = 32
	wsMaxReadSize = 64 * 1024
)

type wsClient struct {
	user string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(wsWriteWait))
		_ = c.conn.Close()
	})
}

// hub tracks websocket clients per user.
type hub struct {
	log      logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	wg      sync.WaitGroup
}

func newHub(log logger.Logger) *hub {
	return &hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*wsClient]struct{}),
	}
}

func (h *hub) register(c *wsClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.user]
	if set == nil {
		set = make(map[*wsClient]struct{})
		h.clients[c.user] = set
	}
	set[c] = struct{}{}
	return len(set)
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.clients[c.user]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.user)
		}
	}
}

// connected returns the number of open connections for user.
func (h *hub) connected(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[user])
}

// publish sends an event to every connection of user. Slow clients miss it.
func (h *hub) publish(user, event string, data any) int {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Error("failed to encode event", logger.String("event", event), logger.Error(err))
		return 0
	}
	msg, err := json.Marshal(realtime.Envelope{Event: event, Data: payload})
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.clients[user] {
		select {
		case c.send <- msg:
			sent++
		case <-c.done:
		default:
			h.log.Warn("websocket client too slow, event dropped", logger.String("event", event))
		}
	}
	return sent
}

// serve upgrades the request and blocks until the client goes away.
func (h *hub) serve(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	client := &wsClient{
		user: userID(c),
		conn: ws,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	h.wg.Add(1)
	defer h.wg.Done()
	count := h.register(client)
	h.log.Debug("websocket client connected",
		logger.String("user", client.user),
		logger.Int("connections", count))

	client.wg.Add(1)
	go h.writePump(client)
	h.readPump(client)

	h.unregister(client)
	client.close()
	client.wg.Wait()
	return nil
}

func (h *hub) readPump(c *wsClient) {
	c.conn.SetReadLimit(wsMaxReadSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env realtime.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		h.log.Debug("websocket message", logger.String("user", c.user), logger.String("event", env.Event))
		if env.Event == "ping" {
			select {
			case c.send <- []byte(`{"event":"pong"}`):
			default:
			}
		}
	}
}

func (h *hub) writePump(c *wsClient) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		}
	}
}

// closeAll disconnects every client and waits for their handlers to return.
func (h *hub) closeAll() {
	h.mu.RLock()
	var all []*wsClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
	h.wg.Wait()
}
