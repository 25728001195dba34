package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes hex(HMAC-SHA256(secret, payload)), placed in the
// X-Webhook-Signature header of every outbound request.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
