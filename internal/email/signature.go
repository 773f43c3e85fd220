package email

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature is returned when an inbound payload fails verification.
var ErrInvalidSignature = errors.New("invalid inbound signature")

// Sign returns the lowercase hex HMAC-SHA256 of rawBase64 keyed by secret.
func Sign(rawBase64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(rawBase64))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signatureHex against the HMAC of rawBase64 in
// constant time. Any empty argument fails verification.
func VerifySignature(rawBase64, signatureHex, secret string) bool {
	if rawBase64 == "" || signatureHex == "" || secret == "" {
		return false
	}
	expected := Sign(rawBase64, secret)
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}
