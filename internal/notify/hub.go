package notify

import (
	"context"
	"encoding/json"
)

// PaymentUpdate is what subscribers receive when a payment changes status.
type PaymentUpdate struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Status            string `json:"status"`
}

type Client struct {
	hub               *Hub
	conn              *Conn
	send              chan []byte
	checkoutRequestID string
}

// Hub fans payment status updates out to websocket clients subscribed by
// checkout request ID.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan PaymentUpdate
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan PaymentUpdate),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.checkoutRequestID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.checkoutRequestID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.checkoutRequestID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.checkoutRequestID)
				}
			}
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			if set, ok := h.clients[upd.CheckoutRequestID]; ok {
				for c := range set {
					select {
					case c.send <- msg:
					default:
						delete(set, c)
						close(c.send)
					}
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) Broadcast(u PaymentUpdate) {
	go func() { h.broadcast <- u }()
}

// PaymentUpdated satisfies the coordinator's Notifier.
func (h *Hub) PaymentUpdated(checkoutRequestID, status string) {
	h.Broadcast(PaymentUpdate{CheckoutRequestID: checkoutRequestID, Status: status})
}
