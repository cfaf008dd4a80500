package payment

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// Payment statuses. The provider-facing casing ("Completed"/"Failed") is
// part of the polling API contract and is stored as-is.
const (
	StatusPending   = "pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// Order statuses.
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
)

type Payment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Order struct {
	ID              string    `json:"id"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerPhone   string    `json:"customer_phone"`
	DeliveryAddress string    `json:"delivery_address"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ParseAmount accepts the amount field as it arrives from JSON: a number,
// or a string holding one.
func ParseAmount(v any) (float64, error) {
	switch amount := v.(type) {
	case float64:
		return amount, nil
	case string:
		parsed, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q is not a number", amount)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("amount of type %T is not a number", v)
	}
}

// statusForResultCode maps a provider callback result code to the payment
// status it settles at. Zero means the customer completed the push prompt.
func statusForResultCode(code int) string {
	if code == 0 {
		return StatusCompleted
	}
	return StatusFailed
}
