package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room for algorithm migration without ambiguity against old hashes.
const (
	DomainSnapshot    = "warden/snapshot/v1"
	DomainDecision    = "warden/decision/v1"
	DomainReceipt     = "warden/receipt/v1"
	DomainPayload     = "warden/payload/v1"
	DomainFingerprint = "warden/fingerprint/v1"
)

// HashWithDomain computes SHA256(domain || 0x00 || data), hex encoded.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashObject canonically marshals obj and hashes it under domain.
func HashObject(domain string, obj Object) (string, error) {
	b, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("canon: hash object: %w", err)
	}
	return HashWithDomain(domain, b), nil
}

// MustHashObject is like HashObject but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashObject(domain string, obj Object) string {
	h, err := HashObject(domain, obj)
	if err != nil {
		panic(err)
	}
	return h
}
