package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks checkout callback signatures:
// hex(HMAC-SHA256(secret, orderID + paymentID)), no separator.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	expected := v.Sign(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
