package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks a GitHub X-Hub-Signature-256 header against the
// exact raw request body. The HMAC is computed over the bytes as received;
// re-serialized payloads will not match. Verification is fail-closed: an
// empty secret rejects every request, and malformed headers return false
// rather than an error. Comparison is constant time.
func VerifySignature(body []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// SignBody computes the signature header value GitHub would send for the
// given body and secret.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
