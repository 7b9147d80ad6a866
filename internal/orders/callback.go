package orders

import (
	"encoding/json"

	"github.com/joao-fontenele/storefront/internal/apperr"
)

// Callback is the client-relayed gateway outcome. It is either a
// FailedCallback or a SuccessCallback.
type Callback interface {
	gatewayOrderID() string
}

// FailedCallback reports a payment the client saw fail. It carries no
// signature and is accepted as is.
type FailedCallback struct {
	GatewayOrderID string
}

func (c FailedCallback) gatewayOrderID() string { return c.GatewayOrderID }

type SuccessCallback struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

func (c SuccessCallback) gatewayOrderID() string { return c.GatewayOrderID }

type callbackPayload struct {
	OrderID       string `json:"razorpay_order_id"`
	PaymentID     string `json:"razorpay_payment_id"`
	Signature     string `json:"razorpay_signature"`
	PaymentFailed bool   `json:"paymentFailed"`
}

// ParseCallback decodes a callback body into its variant.
func ParseCallback(data []byte) (Callback, error) {
	var p callbackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid callback payload", err)
	}

	if p.OrderID == "" {
		return nil, apperr.InvalidArgumentf("razorpay_order_id is required")
	}

	if p.PaymentFailed {
		return FailedCallback{GatewayOrderID: p.OrderID}, nil
	}

	if p.PaymentID == "" || p.Signature == "" {
		return nil, apperr.InvalidArgumentf("razorpay_payment_id and razorpay_signature are required")
	}

	return SuccessCallback{
		GatewayOrderID:   p.OrderID,
		GatewayPaymentID: p.PaymentID,
		Signature:        p.Signature,
	}, nil
}
