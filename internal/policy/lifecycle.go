package policy

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/trust"
)

// transitions is the snapshot state machine. One-directional except
// revocation, which is reachable from signed or distributed only.
var transitions = map[Status][]Status{
	StatusDraft:       {StatusReview},
	StatusReview:      {StatusApproved},
	StatusApproved:    {StatusSigned},
	StatusSigned:      {StatusDistributed, StatusRevoked},
	StatusDistributed: {StatusRevoked},
	StatusRevoked:     {},
}

// Transition moves the snapshot to a new lifecycle status, enforcing the
// state machine. Sign and AcceptRemote perform the signed/distributed
// transitions themselves; Transition covers the review steps and revocation.
func (s *Snapshot) Transition(to Status) error {
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return &Error{
		Code:       ErrCodeInvalidTransition,
		SnapshotID: s.SnapshotID,
		Message:    fmt.Sprintf("cannot transition %s -> %s", s.Status, to),
	}
}

// Sign freezes an approved snapshot: computes the canonical content hash
// over the rule table, signs it with the authoring key, and moves the
// snapshot to signed. Signing from any other state is InvalidTransition.
func Sign(s *Snapshot, signer *trust.Signer, now time.Time) error {
	if s.Status != StatusApproved {
		return &Error{
			Code:       ErrCodeInvalidTransition,
			SnapshotID: s.SnapshotID,
			Message:    fmt.Sprintf("cannot sign snapshot in status %s", s.Status),
		}
	}

	s.SignedAt = now.UTC()
	s.KeyID = signer.KeyID()

	payload, err := s.canonicalBytes()
	if err != nil {
		s.SignedAt = time.Time{}
		s.KeyID = ""
		return &Error{Code: ErrCodeInvalidRubric, SnapshotID: s.SnapshotID,
			Message: fmt.Sprintf("canonical encoding failed: %v", err)}
	}

	s.ContentHash = canon.HashWithDomain(canon.DomainSnapshot, payload)
	s.Signature = signer.Sign(payload)
	s.Status = StatusSigned
	return nil
}

// AcceptRemote is the consumer-side intake for a snapshot produced
// elsewhere. It recomputes the canonical bytes from the received fields,
// checks the declared content hash, and verifies the signature through the
// trust store at the claimed signing time. On success the snapshot is
// marked distributed; on any mismatch it is rejected as untrusted.
func AcceptRemote(s *Snapshot, store *trust.Store, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Status != StatusSigned && s.Status != StatusDistributed {
		return &Error{
			Code:       ErrCodeUntrustedSnapshot,
			SnapshotID: s.SnapshotID,
			Message:    fmt.Sprintf("remote snapshot arrived in status %s, want signed", s.Status),
		}
	}

	payload, err := s.canonicalBytes()
	if err != nil {
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: fmt.Sprintf("canonical encoding failed: %v", err)}
	}

	if got := canon.HashWithDomain(canon.DomainSnapshot, payload); got != s.ContentHash {
		logger.Warn("snapshot content hash mismatch",
			zap.String("snapshot_id", s.SnapshotID),
			zap.String("declared", s.ContentHash),
			zap.String("computed", got))
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: "content hash does not match rule table"}
	}

	if !store.Verify(payload, s.Signature, s.KeyID, s.SignedAt) {
		logger.Warn("snapshot signature rejected",
			zap.String("snapshot_id", s.SnapshotID),
			zap.String("key_id", s.KeyID),
			zap.Time("signed_at", s.SignedAt))
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: fmt.Sprintf("signature verification failed for key %s", s.KeyID)}
	}

	s.Status = StatusDistributed
	logger.Info("accepted remote snapshot",
		zap.String("snapshot_id", s.SnapshotID),
		zap.Int64("version", s.Version),
		zap.String("key_id", s.KeyID))
	return nil
}

// VerifySigned re-checks a locally held snapshot without mutating it.
// Used by the verify-snapshot CLI command and by ledger read paths.
func VerifySigned(s *Snapshot, store *trust.Store) error {
	if !s.Usable() {
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: fmt.Sprintf("snapshot in status %s is not verifiable evidence", s.Status)}
	}
	payload, err := s.canonicalBytes()
	if err != nil {
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: fmt.Sprintf("canonical encoding failed: %v", err)}
	}
	if got := canon.HashWithDomain(canon.DomainSnapshot, payload); got != s.ContentHash {
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: "content hash does not match rule table"}
	}
	if !store.Verify(payload, s.Signature, s.KeyID, s.SignedAt) {
		return &Error{Code: ErrCodeUntrustedSnapshot, SnapshotID: s.SnapshotID,
			Message: fmt.Sprintf("signature verification failed for key %s", s.KeyID)}
	}
	return nil
}
