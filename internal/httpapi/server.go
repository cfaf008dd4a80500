package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"havenplace/payments-gateway/internal/mpesa"
	"havenplace/payments-gateway/internal/payment"
)

// Coordinator is the payment lifecycle surface the API depends on.
type Coordinator interface {
	Initiate(ctx context.Context, amount float64, orderID, phone string) (*mpesa.STKPushResponse, error)
	ApplyCallback(ctx context.Context, result payment.CallbackResult) error
	Status(ctx context.Context, checkoutRequestID string) (string, error)
	Confirm(ctx context.Context, orderID, checkoutRequestID string) (*payment.ConfirmResult, error)
}

type Server struct {
	payments Coordinator
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(payments Coordinator, logger *slog.Logger) *Server {
	s := &Server{
		payments: payments,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/payments/mpesa/myphone", s.initiatePayment)
	s.mux.HandleFunc("POST /stk/callback", s.stkCallback)
	s.mux.HandleFunc("GET /api/payments/status", s.paymentStatus)
	s.mux.HandleFunc("POST /confirm_payment", s.confirmPayment)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HandleFunc registers an extra route on the server's mux.
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      any    `json:"amount"`
		OrderID     string `json:"order_id"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "Missing amount")
		return
	}
	amount, err := payment.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Amount must be a number.")
		return
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = "MYORDER"
	}

	resp, err := s.payments.Initiate(r.Context(), amount, orderID, req.PhoneNumber)
	if err != nil {
		if errors.Is(err, mpesa.ErrTokenUnavailable) {
			writeError(w, http.StatusInternalServerError, "Failed to obtain access token")
			return
		}
		s.logger.Error("initiate payment", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "payment request failed")
		return
	}

	// Relay the provider's response and status code verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Raw)
}

// stkCallback never reports failure to the provider: anything but an
// unparseable payload is acknowledged with result code 0 so the provider
// does not redeliver.
func (s *Server) stkCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAck(w, http.StatusInternalServerError, 1, err.Error())
		return
	}

	result, err := payment.ParseCallback(body)
	if err != nil {
		if errors.Is(err, payment.ErrMissingEnvelope) {
			writeAck(w, http.StatusOK, 0, "Accepted")
			return
		}
		s.logger.Error("stk callback payload", "err", err)
		writeAck(w, http.StatusInternalServerError, 1, err.Error())
		return
	}

	if err := s.payments.ApplyCallback(r.Context(), result); err != nil {
		s.logger.Error("apply stk callback", "checkout_request_id", result.CheckoutRequestID, "err", err)
	}
	writeAck(w, http.StatusOK, 0, "Accepted")
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := r.URL.Query().Get("checkoutRequestID")
	if checkoutRequestID == "" {
		writeError(w, http.StatusBadRequest, "Missing checkoutRequestID")
		return
	}

	status, err := s.payments.Status(r.Context(), checkoutRequestID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found.")
			return
		}
		s.logger.Error("payment status", "checkout_request_id", checkoutRequestID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID        string `json:"order_id"`
		MpesaReference string `json:"mpesa_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrderID == "" || req.MpesaReference == "" {
		writeError(w, http.StatusBadRequest, "Missing order_id or mpesa_reference.")
		return
	}

	result, err := s.payments.Confirm(r.Context(), req.OrderID, req.MpesaReference)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found.")
		case errors.Is(err, payment.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "Payment record not found.")
		default:
			s.logger.Error("confirm payment", "order_id", req.OrderID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if result.AlreadyConfirmed {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Order already confirmed."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Payment confirmed. Order finalized.",
		"order_id": result.OrderID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAck(w http.ResponseWriter, status, resultCode int, desc string) {
	writeJSON(w, status, map[string]any{"ResultCode": resultCode, "ResultDesc": desc})
}
