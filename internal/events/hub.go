package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const hubWriteTimeout = 5 * time.Second

// Hub pushes events to websocket clients subscribed to one session (or to
// all sessions with an empty id). A new subscriber first receives the last
// event seen for its session so it does not miss a pairing code emitted
// just before it connected.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*subscriber
	last    map[string]Event
}

type subscriber struct {
	sessionID string
	// gorilla allows one concurrent writer per connection
	wmu sync.Mutex
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*subscriber),
		last:    make(map[string]Event),
	}
}

func (h *Hub) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.last[e.SessionID] = e
	targets := make(map[*websocket.Conn]*subscriber, len(h.clients))
	for c, sub := range h.clients {
		if sub.sessionID == "" || sub.sessionID == e.SessionID {
			targets[c] = sub
		}
	}
	h.mu.Unlock()

	for c, sub := range targets {
		if err := h.write(c, sub, data); err != nil {
			h.log.Debug("ws write failed, dropping client", zap.Error(err))
			h.drop(c)
		}
	}
	return nil
}

// Serve upgrades the request and keeps the connection registered until the
// peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{sessionID: sessionID}
	h.mu.Lock()
	h.clients[conn] = sub
	var catchUp []Event
	if sessionID != "" {
		if e, ok := h.last[sessionID]; ok {
			catchUp = append(catchUp, e)
		}
	}
	h.mu.Unlock()

	for _, e := range catchUp {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := h.write(conn, sub, data); err != nil {
			h.drop(conn)
			return nil
		}
	}

	// read loop only to notice close frames
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return nil
		}
	}
}

// Forget drops the cached last event of a removed session.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	delete(h.last, sessionID)
	h.mu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = make(map[*websocket.Conn]*subscriber)
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Hub) write(c *websocket.Conn, sub *subscriber, data []byte) error {
	sub.wmu.Lock()
	defer sub.wmu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	return c.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}
