package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the body signature on every delivery.
const SignatureHeader = "X-Signature"

const sigPrefix = "sha256="

// Sign returns "sha256=<hex>" of the HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	return sigPrefix + hex.EncodeToString(digest(secret, body))
}

// Verify reports whether sig matches body. The "sha256=" prefix is optional so receivers
// can pass either the raw header or the bare hex digest.
func Verify(secret string, body []byte, sig string) bool {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sig), sigPrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(digest(secret, body), b)
}

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
