package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CallbackResult is the part of the provider's callback envelope the
// gateway acts on.
type CallbackResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ErrMissingEnvelope marks a payload that parsed as JSON but carries no
// stkCallback body. The provider contract still wants a plain acknowledgement
// for these, unlike payloads that cannot be parsed at all.
var ErrMissingEnvelope = errors.New("callback envelope missing Body.stkCallback")

// ParseCallback extracts the transaction reference and result code from a
// raw provider callback payload.
func ParseCallback(payload []byte) (CallbackResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("decode callback: %w", err)
	}
	cb := envelope.Body.StkCallback
	if cb == nil {
		return CallbackResult{}, ErrMissingEnvelope
	}
	return CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}, nil
}
