// Package hub fans refreshed datasets out to live map views.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"busmap/internal/domain"
	"busmap/internal/view"
)

const (
	MessageFrame   = "frame"
	MessageMarkers = "markers"
	MessagePopup   = "popup"
	MessageError   = "error"
	MessagePong    = "pong"
)

// Message is what a view client receives over its connection.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func FrameMessage(f view.Frame) Message { return Message{Type: MessageFrame, Payload: f} }

func ErrorMessage(msg string) Message {
	return Message{Type: MessageError, Payload: map[string]string{"error": msg}}
}

// Client is one mounted map view and the queue of messages for it.
type Client struct {
	ID   string
	Send chan []byte
	View *view.View

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, v *view.View, bufferSize int) *Client {
	return &Client{
		ID:   id,
		Send: make(chan []byte, bufferSize),
		View: v,
	}
}

// Do runs fn against the client's view and queues the message it returns.
// Calls are serialized per client, so queued messages follow the order in
// which the view changed. It reports false if the message was not queued;
// fn is not run when the buffer is already full, so the view never records
// state (such as a camera fit) that the client did not receive.
func (c *Client) Do(fn func(v *view.View) Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.Send) == cap(c.Send) {
		return false
	}

	data, err := json.Marshal(fn(c.View))
	if err != nil {
		return false
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Observer is told about client churn and dropped frames.
type Observer interface {
	ViewConnected()
	ViewDisconnected()
	FrameDropped()
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *domain.Dataset
	done       chan struct{}

	observer Observer
	logger   *slog.Logger
}

func NewHub(observer Observer, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan *domain.Dataset, 16),
		done:       make(chan struct{}),
		observer:   observer,
		logger:     logger.With("component", "hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			// an unregister can win the race with its own register
			if client.isClosed() {
				continue
			}
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			if h.observer != nil {
				h.observer.ViewConnected()
			}
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case ds := <-h.broadcast:
			h.fanout(ds)
		}
	}
}

// Publish queues a refreshed dataset for every registered view.
func (h *Hub) Publish(ds *domain.Dataset) {
	if ds == nil {
		return
	}
	select {
	case h.broadcast <- ds:
	default:
		h.logger.Warn("broadcast channel full, dropping dataset", "version", ds.Version)
	}
}

// Register adds a client. Once the hub has stopped the client is closed
// instead.
func (h *Hub) Register(client *Client) {
	h.enqueue(h.register, client)
}

// Unregister removes and closes a client. It never blocks after the hub has
// stopped.
func (h *Hub) Unregister(client *Client) {
	h.enqueue(h.unregister, client)
}

func (h *Hub) enqueue(ch chan *Client, client *Client) {
	select {
	case <-h.done:
		client.close()
		return
	default:
	}

	select {
	case ch <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanout(ds *domain.Dataset) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		ok := client.Do(func(v *view.View) Message {
			return FrameMessage(v.Render(ds))
		})
		if !ok {
			if h.observer != nil {
				h.observer.FrameDropped()
			}
			h.logger.Debug("client send buffer full", "client_id", client.ID, "version", ds.Version)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		client.close()
		return
	}

	delete(h.clients, client)
	client.close()
	if h.observer != nil {
		h.observer.ViewDisconnected()
	}
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
		if h.observer != nil {
			h.observer.ViewDisconnected()
		}
	}
	h.clients = make(map[*Client]struct{})
}
