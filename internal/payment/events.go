package payment

import "time"

// OrderCreatedEvent arrives on the orders exchange when the fulfillment
// side opens a new order. The gateway mirrors it into its own store.
type OrderCreatedEvent struct {
	EventID         string    `json:"event_id"`
	OrderID         string    `json:"order_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerPhone   string    `json:"customer_phone"`
	DeliveryAddress string    `json:"delivery_address"`
	CreatedAt       time.Time `json:"created_at"`
}

// Event types written to the payment outbox.
const (
	EventPaymentCompleted = "payments.completed"
	EventPaymentFailed    = "payments.failed"
	EventPaymentConfirmed = "payments.confirmed"
)

// PaymentEvent announces a terminal payment transition to the platform.
type PaymentEvent struct {
	EventID       string    `json:"event_id"`
	PaymentID     string    `json:"payment_id"`
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}
