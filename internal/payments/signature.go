package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeSignature returns the hex-encoded HMAC-SHA256 of message under secret.
func ComputeSignature(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerificationMessage builds the canonical message for client-submitted
// payment verification: the gateway order id and payment id joined by a pipe.
func VerificationMessage(intentID, paymentID string) string {
	return strings.TrimSpace(intentID) + "|" + strings.TrimSpace(paymentID)
}

// VerifySignature checks a hex HMAC-SHA256 signature in constant time.
func VerifySignature(secret, message, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hmac.Equal(provided, mac.Sum(nil))
}

// VerifyRawSignature checks a hex HMAC-SHA256 signature over raw bytes. Used by
// the webhook endpoint where the message is the unparsed request body.
func VerifyRawSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
