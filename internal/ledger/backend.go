package ledger

import "context"

// Backend is the storage capability the chain logic runs on. Implementations
// must make AppendRecord atomic — the full record is written or nothing is —
// and must preserve records verbatim: verification happens above, on the
// exact bytes that come back out.
//
// The Ledger serializes appends per partition before calling AppendRecord,
// so backends do not need their own partition locking for correctness, only
// for their internal consistency.
type Backend interface {
	// AppendRecord durably stores one record in partition.
	AppendRecord(ctx context.Context, partition string, rec Receipt) error

	// ReadRange returns records with fromSeq <= sequence_no <= toSeq in
	// ascending sequence order. A toSeq of 0 means "to the end". When a
	// stored record fails to decode, the records preceding it are returned
	// together with a *CorruptRecordError carrying the undecodable bytes;
	// decode failures are integrity failures, never transient ones.
	ReadRange(ctx context.Context, partition string, fromSeq, toSeq int64) ([]Receipt, error)

	// LastRecord returns the highest-sequence record in partition, or
	// ok=false when the partition is empty.
	LastRecord(ctx context.Context, partition string) (Receipt, bool, error)

	// Quarantine moves a failed record to the quarantine sink. Quarantined
	// records are preserved for investigation, never deleted.
	Quarantine(ctx context.Context, partition string, rec Receipt, reason string) error

	// QuarantineRaw preserves bytes that no longer decode as a record.
	QuarantineRaw(ctx context.Context, partition string, line []byte, reason string) error

	// Quarantined lists the quarantined records for a partition.
	Quarantined(ctx context.Context, partition string) ([]Receipt, error)

	// Close releases backend resources.
	Close() error
}
