package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the webhook body signature
const SignatureHeader = "X-Razorpay-Signature"

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against Sign(secret, message) in
// constant time. An empty signature or secret never verifies.
func VerifySignature(secret string, message []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PaymentSignaturePayload is the message a checkout signature covers.
func PaymentSignaturePayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
