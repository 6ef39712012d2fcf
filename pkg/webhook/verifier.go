package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks a provider signature against an HMAC-SHA256 of the raw
// payload bytes. It must run on the body exactly as received, before any
// JSON parsing: re-serialization can change the bytes and break the
// signature. Comparison is constant-time.
//
// Stripe webhooks don't come through here; they use the official
// webhook.ConstructEvent verification in pkg/billing.
func Verify(payload []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	sig, err := hex.DecodeString(normalizeSignature(signatureHeader))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hmac.Equal(sig, mac.Sum(nil))
}

// Sign computes the hex HMAC-SHA256 signature for a payload. Exposed for
// tests and for signing our own outbound callbacks.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// normalizeSignature strips the optional "sha256=" prefix some providers
// put in front of the hex digest.
func normalizeSignature(header string) string {
	header = strings.TrimSpace(header)
	return strings.TrimPrefix(header, "sha256=")
}
