package websockets

import (
	"context"
	"encoding/json"
	"log/slog"

	"hwpulse/internal/presenter"
)

// MessageTypeSnapshot tags messages carrying a presenter view.
const MessageTypeSnapshot = "snapshot"

// WebSocketMessage는 클라이언트로 전송되는 데이터 구조입니다.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks connected clients and broadcasts every view it receives. The
// most recent message is replayed to clients as they connect.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
	last       []byte
	done       chan struct{}
}

// NewHub returns an idle hub; Run starts delivery.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// EncodeView renders a view as a websocket message.
func EncodeView(view presenter.View) ([]byte, error) {
	return json.Marshal(WebSocketMessage{Type: MessageTypeSnapshot, Data: view})
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context, views <-chan presenter.View) error {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("websocket client connected", "clients", len(h.clients))
			if h.last != nil {
				h.deliver(client, h.last)
			}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("websocket client disconnected", "clients", len(h.clients))
			}
		case view := <-views:
			message, err := EncodeView(view)
			if err != nil {
				h.logger.Error("encoding view failed", "error", err)
				continue
			}
			h.last = message
			for client := range h.clients {
				h.deliver(client, message)
			}
		}
	}
}

// deliver drops clients whose send buffer is full.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		close(client.send)
		delete(h.clients, client)
		h.logger.Warn("dropping slow websocket client")
	}
}
