package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusFinder looks up the current status of a payment.
type StatusFinder interface {
	Status(ctx context.Context, checkoutRequestID string) (string, error)
}

type Handler struct {
	hub      *Hub
	statuses StatusFinder
	logger   *slog.Logger
}

func NewHandler(hub *Hub, statuses StatusFinder, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, statuses: statuses, logger: logger}
}

// ServeWS subscribes a client to status pushes for one checkout request ID.
// The current status is sent immediately after the upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := r.URL.Query().Get("checkoutRequestID")
	if checkoutRequestID == "" {
		http.Error(w, "Missing checkoutRequestID", http.StatusBadRequest)
		return
	}

	status, err := h.statuses.Status(r.Context(), checkoutRequestID)
	if err != nil {
		http.Error(w, "Payment not found.", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:               h.hub,
		conn:              conn,
		send:              make(chan []byte, 256),
		checkoutRequestID: checkoutRequestID,
	}

	client.hub.register <- client
	go client.writePump()
	go client.readPump()

	upd := PaymentUpdate{CheckoutRequestID: checkoutRequestID, Status: status}
	if b, err := json.Marshal(upd); err == nil {
		select {
		case client.send <- b:
		case <-time.After(1 * time.Second):
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
