package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contractguard/contract-monitor/internal/model"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsSendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ViolationNotice is the message pushed to websocket subscribers whenever the
// router attempts delivery for a violation.
type ViolationNotice struct {
	Violation *model.ViolationEvent `json:"violation"`
	Outcome   map[string]bool       `json:"outcome"`
	Timestamp time.Time             `json:"timestamp"`
}

// Hub fans routed violations out to websocket subscribers. Slow subscribers
// are dropped rather than allowed to back-pressure the router.
type Hub struct {
	logger     *slog.Logger
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan ViolationNotice
	clients    map[*wsClient]struct{}
	done       chan struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan ViolationNotice
}

// NewHub creates a websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan ViolationNotice, 64),
		clients:    make(map[*wsClient]struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the client set. It exits when ctx is cancelled, closing every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.send)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug("Websocket subscriber connected", "subscribers", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case notice := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- notice:
				default:
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("Dropping slow websocket subscriber")
				}
			}
		}
	}
}

// Broadcast enqueues a routed violation for all subscribers. Non-blocking: if
// the hub is saturated the notice is dropped.
func (h *Hub) Broadcast(event *model.ViolationEvent, outcome map[string]bool) {
	notice := ViolationNotice{
		Violation: event,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.broadcast <- notice:
	default:
		h.logger.Warn("Websocket broadcast buffer full, dropping notice",
			"contract", event.ContractName)
	}
}

// ServeWS upgrades an HTTP request into a violation subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan ViolationNotice, wsSendBufferSize),
	}

	// A hub that has already shut down will never drain register; close the
	// socket instead of blocking the request goroutine forever.
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case notice, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(notice); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages; the socket is push-only. It exists to
// process pongs and to notice a closed peer.
func (h *Hub) readPump(client *wsClient) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
