package ledger

import (
	"errors"
	"fmt"
)

// ChainIntegrityViolation reports a record that failed signature or chain
// verification on read. The record is quarantined, never auto-repaired;
// LastGoodSeq tells the caller where the verified prefix of the chain
// ends so it can decide to halt or skip.
type ChainIntegrityViolation struct {
	Partition   string
	BadSeq      int64
	LastGoodSeq int64
	Reason      string
}

func (e *ChainIntegrityViolation) Error() string {
	return fmt.Sprintf("CHAIN_INTEGRITY_VIOLATION: %s at seq %d (partition=%s, last_good=%d)",
		e.Reason, e.BadSeq, e.Partition, e.LastGoodSeq)
}

// IsChainViolation reports whether err is a chain integrity failure.
func IsChainViolation(err error) bool {
	var cv *ChainIntegrityViolation
	return errors.As(err, &cv)
}

// CorruptRecordError reports a stored record that could not be decoded at
// all — the bytes coming back out of storage are no longer a well-formed
// record line. Like any integrity failure it is never retried; the raw
// line is quarantined and the read halts at the last good sequence.
type CorruptRecordError struct {
	Partition string
	Line      []byte
	Err       error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("CORRUPT_RECORD: undecodable record in partition %s: %v", e.Partition, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// IsCorruptRecord reports whether err means stored bytes failed to decode.
func IsCorruptRecord(err error) bool {
	var ce *CorruptRecordError
	return errors.As(err, &ce)
}

// UnavailableError wraps a transient storage failure that survived the
// configured retries. Distinct from integrity failures: retrying later is
// legitimate, treating it as success is not.
type UnavailableError struct {
	Partition string
	Op        string
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("LEDGER_UNAVAILABLE: %s failed (partition=%s): %v", e.Op, e.Partition, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the ledger backend could not be
// reached.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
