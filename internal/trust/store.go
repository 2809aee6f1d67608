package trust

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the in-process key registry. Multiple keys may be valid
// simultaneously, which is how rotation works: register the successor,
// then revoke the predecessor for future signing.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	keys   map[string]PublicKeyRecord
	logger *zap.Logger
}

// NewStore creates an empty trust store. A nil logger is replaced with a nop.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		keys:   make(map[string]PublicKeyRecord),
		logger: logger,
	}
}

// RegisterKey adds a verification key. Duplicate key_ids are rejected:
// key records are immutable once issued, so re-registration is always a bug
// or an attack.
func (s *Store) RegisterKey(rec PublicKeyRecord) error {
	if rec.KeyID == "" {
		return &Error{Code: ErrCodeBadKeyMaterial, Message: "key_id must not be empty"}
	}
	if rec.Algorithm != AlgorithmEd25519 {
		return &Error{Code: ErrCodeBadKeyMaterial, KeyID: rec.KeyID,
			Message: fmt.Sprintf("unsupported algorithm %q", rec.Algorithm)}
	}
	if len(rec.KeyMaterial) != ed25519.PublicKeySize {
		return &Error{Code: ErrCodeBadKeyMaterial, KeyID: rec.KeyID,
			Message: fmt.Sprintf("key material must be %d bytes", ed25519.PublicKeySize)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[rec.KeyID]; exists {
		return &Error{Code: ErrCodeDuplicateKey, KeyID: rec.KeyID,
			Message: "key_id already registered"}
	}
	s.keys[rec.KeyID] = rec
	s.logger.Info("registered trust key",
		zap.String("key_id", rec.KeyID),
		zap.Time("valid_from", rec.ValidFrom))
	return nil
}

// RevokeKey marks a key revoked as of at. Revocation is one-way and
// idempotent: revoking an already revoked key keeps the earlier timestamp.
// Returns an UnknownKey error if the key was never registered.
func (s *Store) RevokeKey(keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[keyID]
	if !ok {
		return &Error{Code: ErrCodeUnknownKey, KeyID: keyID, Message: "cannot revoke unregistered key"}
	}
	if rec.RevokedAt != nil {
		return nil
	}
	rec.RevokedAt = &at
	s.keys[keyID] = rec
	s.logger.Warn("revoked trust key",
		zap.String("key_id", keyID),
		zap.Time("revoked_at", at))
	return nil
}

// Key returns the record for keyID.
func (s *Store) Key(keyID string) (PublicKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[keyID]
	if !ok {
		return PublicKeyRecord{}, &Error{Code: ErrCodeUnknownKey, KeyID: keyID, Message: "key not registered"}
	}
	return rec, nil
}

// Verify checks signature over payload against keyID, evaluated at the
// claimed signing time at. Fails closed: an unknown key, a key revoked
// before at, a key not yet valid at at, or a signature mismatch all return
// false. Verification has no side effects.
func (s *Store) Verify(payload, signature []byte, keyID string, at time.Time) bool {
	s.mu.RLock()
	rec, ok := s.keys[keyID]
	s.mu.RUnlock()

	if !ok {
		s.logger.Debug("verify failed: unknown key", zap.String("key_id", keyID))
		return false
	}
	if !rec.validAt(at) {
		s.logger.Debug("verify failed: key not valid at signing time",
			zap.String("key_id", keyID),
			zap.Time("at", at))
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(rec.KeyMaterial), payload, signature)
}
