package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"ticket-engine/internal/status"
)

// verifyHMAC checks an HMAC-SHA256 hex signature in constant time.
func verifyHMAC(secret, payload []byte, signature string) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", status.ErrSignatureInvalid)
	}
	if !hmac.Equal(expected, got) {
		return status.ErrSignatureInvalid
	}
	return nil
}

// SignPayload produces the hex HMAC-SHA256 signature of a payload. Exposed
// for tests and the sandbox console.
func SignPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
