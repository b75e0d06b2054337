// Package signature defines the request-signing contract the core depends on without
// committing to any one exchange's wire format. Concrete exchange adapters (out of scope
// per spec.md §1) inject a Signer; the core never constructs request bodies itself.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces and checks HMAC signatures over a canonical request string. Exchange
// adapters (Binance/Bitmex/Serum) each build their own canonical-string format from a
// shared Signer instance per API credential.
type Signer interface {
	Sign(canonicalString string) string
	Verify(canonicalString, signature string) bool
}

// HMACSigner is the reference Signer: HMAC-SHA256 over the secret, hex-encoded.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner builds a Signer from a raw API secret.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA256 of canonicalString.
func (s *HMACSigner) Sign(canonicalString string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonicalString))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches canonicalString, in constant time.
func (s *HMACSigner) Verify(canonicalString, signature string) bool {
	expected := s.Sign(canonicalString)
	return hmac.Equal([]byte(expected), []byte(signature))
}
