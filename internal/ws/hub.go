// Package ws streams engine events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/metrics"
)

const (
	defaultMaxConnections = 1024
	sendBuffer            = 256
)

var ErrMaxConnections = errors.New("max websocket connections exceeded")

// Client is one subscriber. An empty filter receives every event type.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	filter       map[string]struct{}
	lastActivity int64
}

func (c *Client) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

func (c *Client) wants(eventType string) bool {
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[eventType]
	return ok
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	max     int
	total   int64
	dropped int64
}

func NewHub(maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = defaultMaxConnections
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		max:     maxConnections,
	}
}

// Subscribe registers conn for the given event types.
func (h *Hub) Subscribe(conn *websocket.Conn, types ...string) (*Client, error) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if len(types) > 0 {
		client.filter = make(map[string]struct{}, len(types))
		for _, t := range types {
			client.filter[t] = struct{}{}
		}
	}
	client.touch()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.max {
		return nil, ErrMaxConnections
	}
	h.clients[client] = struct{}{}
	atomic.AddInt64(&h.total, 1)
	return client, nil
}

// Unsubscribe is safe to call more than once for the same client.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(eventType string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(eventType) {
			continue
		}
		select {
		case client.send <- message:
		default:
			atomic.AddInt64(&h.dropped, 1)
			metrics.IncWSDropped()
		}
	}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Consume(_ context.Context, ev *engine.Event) error {
	payload, err := json.Marshal(ev.Message())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	h.Broadcast(ev.Type.String(), payload)
	return nil
}

type HubStats struct {
	ActiveConnections int
	TotalConnections  int64
	Dropped           int64
	MaxConnections    int
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		ActiveConnections: len(h.clients),
		TotalConnections:  atomic.LoadInt64(&h.total),
		Dropped:           atomic.LoadInt64(&h.dropped),
		MaxConnections:    h.max,
	}
}

// CloseAll closes every connection; the pumps then unsubscribe.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		if client.conn != nil {
			conns = append(conns, client.conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
