package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"havenplace/payments-gateway/internal/mpesa"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifier pushes a payment status change to interested subscribers.
type Notifier interface {
	PaymentUpdated(checkoutRequestID, status string)
}

// Service coordinates the payment lifecycle: it issues push-payment
// requests, settles records from provider callbacks, and serves status and
// confirmation queries. All mutations go through single pgx transactions.
type Service struct {
	pool         *pgxpool.Pool
	client       *mpesa.Client
	defaultPhone string
	notifier     Notifier
	logger       *slog.Logger
}

func NewService(pool *pgxpool.Pool, client *mpesa.Client, defaultPhone string, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		pool:         pool,
		client:       client,
		defaultPhone: defaultPhone,
		notifier:     notifier,
		logger:       logger,
	}
}

// Initiate submits an STK push for the amount and records a pending payment
// when the provider accepts it. The provider's response is returned verbatim
// either way so the API can relay it.
func (s *Service) Initiate(ctx context.Context, amount float64, orderID, phone string) (*mpesa.STKPushResponse, error) {
	if phone == "" {
		phone = s.defaultPhone
	}

	resp, err := s.client.STKPush(ctx, amount, phone)
	if err != nil {
		return nil, err
	}

	if resp.Accepted() {
		now := time.Now().UTC()
		_, err := s.pool.Exec(ctx, `
			INSERT INTO payments (id, order_id, transaction_id, amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			uuid.New(), orderID, resp.CheckoutRequestID, amount, StatusPending, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert payment: %w", err)
		}
	}

	return resp, nil
}

// ApplyCallback settles the payment the provider reported on. Only pending
// payments transition; a duplicate or out-of-order callback for a settled
// payment is a no-op, as is an unknown reference.
func (s *Service) ApplyCallback(ctx context.Context, result CallbackResult) error {
	status := statusForResultCode(result.ResultCode)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var p Payment
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, amount
		FROM payments
		WHERE transaction_id = $1 AND status = $2
		FOR UPDATE`,
		result.CheckoutRequestID, StatusPending,
	).Scan(&p.ID, &p.OrderID, &p.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("callback ignored", "checkout_request_id", result.CheckoutRequestID, "result_code", result.ResultCode)
			return nil
		}
		return fmt.Errorf("select payment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		p.ID, status,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	eventType := EventPaymentCompleted
	if status == StatusFailed {
		eventType = EventPaymentFailed
	}
	if err := s.enqueueEvent(ctx, tx, eventType, p, result.CheckoutRequestID, status); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.PaymentUpdated(result.CheckoutRequestID, status)
	}
	return nil
}

// Status returns the stored payment status for a checkout request ID.
func (s *Service) Status(ctx context.Context, checkoutRequestID string) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT status FROM payments WHERE transaction_id = $1`,
		checkoutRequestID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPaymentNotFound
		}
		return "", fmt.Errorf("select payment status: %w", err)
	}
	return status, nil
}

type ConfirmResult struct {
	OrderID          string
	AlreadyConfirmed bool
}

// Confirm finalizes an order against a specific payment. The order and
// payment updates commit in one transaction; confirming an already
// confirmed order is an acknowledged no-op.
func (s *Service) Confirm(ctx context.Context, orderID, checkoutRequestID string) (*ConfirmResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var orderStatus string
	err = tx.QueryRow(ctx, `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&orderStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	var p Payment
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, amount
		FROM payments
		WHERE order_id = $1 AND transaction_id = $2`,
		orderID, checkoutRequestID,
	).Scan(&p.ID, &p.OrderID, &p.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}

	if orderStatus == OrderConfirmed {
		return &ConfirmResult{OrderID: orderID, AlreadyConfirmed: true}, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2 WHERE id = $1`,
		orderID, OrderConfirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1`,
		p.ID, StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	if err := s.enqueueEvent(ctx, tx, EventPaymentConfirmed, p, checkoutRequestID, StatusCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.PaymentUpdated(checkoutRequestID, StatusCompleted)
	}
	return &ConfirmResult{OrderID: orderID}, nil
}

// CreateOrderFromEvent mirrors an externally created order into the store.
// Redelivered events are absorbed by the primary-key conflict.
func (s *Service) CreateOrderFromEvent(ctx context.Context, evt OrderCreatedEvent) error {
	if evt.OrderID == "" {
		return fmt.Errorf("order event %s has no order id", evt.EventID)
	}

	createdAt := evt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, customer_name, customer_email, customer_phone, delivery_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		evt.OrderID, evt.CustomerName, evt.CustomerEmail, evt.CustomerPhone, evt.DeliveryAddress, OrderPending, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Service) enqueueEvent(ctx context.Context, tx pgx.Tx, eventType string, p Payment, checkoutRequestID, status string) error {
	evt := PaymentEvent{
		EventID:       uuid.New().String(),
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		TransactionID: checkoutRequestID,
		Amount:        p.Amount,
		Status:        status,
		OccurredAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		evt.EventID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
