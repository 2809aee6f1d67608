package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"
)

// AlgorithmEd25519 is the only signing algorithm currently accepted.
const AlgorithmEd25519 = "ed25519"

// PublicKeyRecord is an immutable registered verification key. The only
// permitted mutation is revocation, a one-way transition performed by the
// Store.
type PublicKeyRecord struct {
	KeyID       string     `json:"key_id"`
	Algorithm   string     `json:"algorithm"`
	KeyMaterial []byte     `json:"key_material"`
	ValidFrom   time.Time  `json:"valid_from"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// validAt reports whether the key may sign at instant t.
func (r PublicKeyRecord) validAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	if r.RevokedAt != nil && !t.Before(*r.RevokedAt) {
		return false
	}
	return true
}

// Signer holds a private key on an authoring node. Consumers never hold one.
type Signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

// NewSigner wraps an existing private key.
func NewSigner(keyID string, priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, &Error{Code: ErrCodeBadKeyMaterial, KeyID: keyID,
			Message: fmt.Sprintf("private key must be %d bytes", ed25519.PrivateKeySize)}
	}
	return &Signer{keyID: keyID, priv: priv}, nil
}

// GenerateSigner creates a fresh Ed25519 keypair and returns the signer
// together with the public record to register, valid from validFrom.
func GenerateSigner(keyID string, validFrom time.Time) (*Signer, PublicKeyRecord, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, PublicKeyRecord{}, fmt.Errorf("generate keypair: %w", err)
	}
	rec := PublicKeyRecord{
		KeyID:       keyID,
		Algorithm:   AlgorithmEd25519,
		KeyMaterial: pub,
		ValidFrom:   validFrom,
	}
	return &Signer{keyID: keyID, priv: priv}, rec, nil
}

// KeyID returns the identifier signatures made by this signer claim.
func (s *Signer) KeyID() string { return s.keyID }

// Sign signs payload with the private key.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}

// PublicKey returns the public half for registration.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// PrivateKey exposes the private key for serialization on authoring nodes.
func (s *Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}
