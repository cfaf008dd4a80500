package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"havenplace/payments-gateway/internal/mpesa"
	"havenplace/payments-gateway/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type initiateCall struct {
	amount  float64
	orderID string
	phone   string
}

type fakeCoordinator struct {
	initiateResp *mpesa.STKPushResponse
	initiateErr  error
	initiated    []initiateCall

	callbackErr error
	callbacks   []payment.CallbackResult

	statuses  map[string]string
	statusErr error

	confirmResult *payment.ConfirmResult
	confirmErr    error
}

func (f *fakeCoordinator) Initiate(_ context.Context, amount float64, orderID, phone string) (*mpesa.STKPushResponse, error) {
	f.initiated = append(f.initiated, initiateCall{amount: amount, orderID: orderID, phone: phone})
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return f.initiateResp, nil
}

func (f *fakeCoordinator) ApplyCallback(_ context.Context, result payment.CallbackResult) error {
	f.callbacks = append(f.callbacks, result)
	return f.callbackErr
}

func (f *fakeCoordinator) Status(_ context.Context, checkoutRequestID string) (string, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	status, ok := f.statuses[checkoutRequestID]
	if !ok {
		return "", payment.ErrPaymentNotFound
	}
	return status, nil
}

func (f *fakeCoordinator) Confirm(_ context.Context, orderID, checkoutRequestID string) (*payment.ConfirmResult, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.confirmResult, nil
}

func newTestServer(f *fakeCoordinator) *Server {
	return NewServer(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doJSON(t *testing.T, srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestInitiate_MissingAmount(t *testing.T) {
	f := &fakeCoordinator{}
	srv := newTestServer(f)

	for _, body := range []string{`{}`, `{"order_id":"A1"}`, ``} {
		rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing amount", decodeBody(t, rec)["error"])
	}
	assert.Empty(t, f.initiated)
}

func TestInitiate_BadAmount(t *testing.T) {
	f := &fakeCoordinator{}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", `{"amount":"five hundred"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Amount must be a number.", decodeBody(t, rec)["error"])
	assert.Empty(t, f.initiated)
}

func TestInitiate_RelaysProviderResponse(t *testing.T) {
	raw := `{"ResponseCode":"0","CheckoutRequestID":"ws_CO_123","CustomerMessage":"Success"}`
	f := &fakeCoordinator{
		initiateResp: &mpesa.STKPushResponse{
			ResponseCode:      "0",
			CheckoutRequestID: "ws_CO_123",
			StatusCode:        http.StatusOK,
			Raw:               json.RawMessage(raw),
		},
	}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", `{"amount":"500","order_id":"A1","phone_number":"254711000000"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, raw, rec.Body.String())

	require.Len(t, f.initiated, 1)
	assert.Equal(t, initiateCall{amount: 500, orderID: "A1", phone: "254711000000"}, f.initiated[0])
}

func TestInitiate_DefaultsOrderID(t *testing.T) {
	f := &fakeCoordinator{
		initiateResp: &mpesa.STKPushResponse{StatusCode: http.StatusOK, Raw: json.RawMessage(`{}`)},
	}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", `{"amount":250}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.initiated, 1)
	assert.Equal(t, "MYORDER", f.initiated[0].orderID)
	assert.Equal(t, 250.0, f.initiated[0].amount)
}

func TestInitiate_RelaysProviderRejection(t *testing.T) {
	raw := `{"errorCode":"500.001.1001","errorMessage":"Unable to lock subscriber"}`
	f := &fakeCoordinator{
		initiateResp: &mpesa.STKPushResponse{StatusCode: http.StatusServiceUnavailable, Raw: json.RawMessage(raw)},
	}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", `{"amount":500}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, raw, rec.Body.String())
}

func TestInitiate_AuthFailure(t *testing.T) {
	f := &fakeCoordinator{initiateErr: fmt.Errorf("%w: status 401", mpesa.ErrTokenUnavailable)}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", `{"amount":500}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to obtain access token", decodeBody(t, rec)["error"])
}

func TestInitiate_UpstreamFailure(t *testing.T) {
	f := &fakeCoordinator{initiateErr: errors.New("stk push request: connection refused")}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/mpesa/myphone", `{"amount":500}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "payment request failed", decodeBody(t, rec)["error"])
}

func TestCallback_Applies(t *testing.T) {
	f := &fakeCoordinator{}
	srv := newTestServer(f)

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_123","ResultCode":0,"ResultDesc":"ok"}}}`
	rec := doJSON(t, srv, http.MethodPost, "/stk/callback", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(0), got["ResultCode"])
	assert.Equal(t, "Accepted", got["ResultDesc"])

	require.Len(t, f.callbacks, 1)
	assert.Equal(t, "ws_CO_123", f.callbacks[0].CheckoutRequestID)
	assert.Equal(t, 0, f.callbacks[0].ResultCode)
}

func TestCallback_MalformedPayload(t *testing.T) {
	f := &fakeCoordinator{}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/stk/callback", `{not json`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(1), got["ResultCode"])
	assert.NotEmpty(t, got["ResultDesc"])
	assert.Empty(t, f.callbacks)
}

func TestCallback_MissingEnvelopeStillAccepted(t *testing.T) {
	f := &fakeCoordinator{}
	srv := newTestServer(f)

	rec := doJSON(t, srv, http.MethodPost, "/stk/callback", `{"Body":{}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Accepted", decodeBody(t, rec)["ResultDesc"])
	assert.Empty(t, f.callbacks)
}

func TestCallback_InternalErrorStillAccepted(t *testing.T) {
	f := &fakeCoordinator{callbackErr: errors.New("db down")}
	srv := newTestServer(f)

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_123","ResultCode":1032}}}`
	rec := doJSON(t, srv, http.MethodPost, "/stk/callback", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(0), got["ResultCode"])
	assert.Equal(t, "Accepted", got["ResultDesc"])
}

func TestStatus_MissingParam(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{})

	rec := doJSON(t, srv, http.MethodGet, "/api/payments/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing checkoutRequestID", decodeBody(t, rec)["error"])
}

func TestStatus_NotFound(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{statuses: map[string]string{}})

	rec := doJSON(t, srv, http.MethodGet, "/api/payments/status?checkoutRequestID=ws_CO_404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Payment not found.", decodeBody(t, rec)["error"])
}

func TestStatus_Found(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{statuses: map[string]string{"ws_CO_123": payment.StatusCompleted}})

	// Polling: repeated calls return the same answer.
	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv, http.MethodGet, "/api/payments/status?checkoutRequestID=ws_CO_123", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Completed", decodeBody(t, rec)["status"])
	}
}

func TestConfirm_MissingFields(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{})

	for _, body := range []string{`{}`, `{"order_id":"A1"}`, `{"mpesa_reference":"ws_CO_123"}`} {
		rec := doJSON(t, srv, http.MethodPost, "/confirm_payment", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing order_id or mpesa_reference.", decodeBody(t, rec)["error"])
	}
}

func TestConfirm_OrderNotFound(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{confirmErr: payment.ErrOrderNotFound})

	rec := doJSON(t, srv, http.MethodPost, "/confirm_payment", `{"order_id":"A1","mpesa_reference":"ws_CO_123"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order not found.", decodeBody(t, rec)["error"])
}

func TestConfirm_PaymentNotFound(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{confirmErr: payment.ErrPaymentNotFound})

	rec := doJSON(t, srv, http.MethodPost, "/confirm_payment", `{"order_id":"A1","mpesa_reference":"ws_CO_123"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Payment record not found.", decodeBody(t, rec)["error"])
}

func TestConfirm_AlreadyConfirmed(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{
		confirmResult: &payment.ConfirmResult{OrderID: "A1", AlreadyConfirmed: true},
	})

	// Idempotent: the same answer both times.
	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/confirm_payment", `{"order_id":"A1","mpesa_reference":"ws_CO_123"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Order already confirmed.", decodeBody(t, rec)["message"])
	}
}

func TestConfirm_Finalizes(t *testing.T) {
	srv := newTestServer(&fakeCoordinator{
		confirmResult: &payment.ConfirmResult{OrderID: "A1"},
	})

	rec := doJSON(t, srv, http.MethodPost, "/confirm_payment", `{"order_id":"A1","mpesa_reference":"ws_CO_123"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "Payment confirmed. Order finalized.", got["message"])
	assert.Equal(t, "A1", got["order_id"])
}
