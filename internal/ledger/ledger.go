package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/trust"
)

// Config tunes the ledger's transient-failure handling. Trust and
// integrity failures are never retried; only storage I/O is.
type Config struct {
	// RetryAttempts is the total number of tries for a backend call.
	// Minimum 1 (no retries).
	RetryAttempts int

	// RetryBackoff is the base delay between tries; attempt n waits
	// n * RetryBackoff.
	RetryBackoff time.Duration

	// Now supplies timestamps for new receipts. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) validate() error {
	if c.RetryAttempts < 1 {
		return fmt.Errorf("ledger: retry_attempts must be at least 1")
	}
	if c.RetryAttempts > 1 && c.RetryBackoff <= 0 {
		return fmt.Errorf("ledger: retry_backoff must be positive when retries are enabled")
	}
	return nil
}

// partitionState serializes appends for one partition and caches the chain
// tail so successive appends do not re-read storage.
type partitionState struct {
	mu       sync.Mutex
	seeded   bool
	nextSeq  int64
	prevHash string
}

// Ledger signs, chains, and verifies receipts over a Backend.
type Ledger struct {
	backend Backend
	store   *trust.Store
	signer  *trust.Signer
	cfg     Config
	logger  *zap.Logger

	mu    sync.Mutex // guards parts map
	parts map[string]*partitionState
}

// New builds a ledger. The signer is required for Append; a read-only
// ledger (ledger-check, consumers) may pass nil and only call ReadRange
// and VerifyChain.
func New(backend Backend, store *trust.Store, signer *trust.Signer, cfg Config, logger *zap.Logger) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		backend: backend,
		store:   store,
		signer:  signer,
		cfg:     cfg,
		logger:  logger,
		parts:   make(map[string]*partitionState),
	}, nil
}

// Append writes payload as the next record of partition: payload hash,
// prev_hash chaining, next sequence number, signature, then one atomic
// backend write. At most one append is in flight per partition at a time.
// Cancellation before the backend write leaves no partial record.
func (l *Ledger) Append(ctx context.Context, partition string, payload canon.Object) (Receipt, error) {
	if l.signer == nil {
		return Receipt{}, fmt.Errorf("ledger: append requires a signer")
	}

	st := l.partition(partition)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.seeded {
		if err := l.seedPartition(ctx, partition, st); err != nil {
			return Receipt{}, err
		}
	}

	payloadBytes, err := canon.MarshalCanonical(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: payload not canonical: %w", err)
	}

	rec := Receipt{
		ReceiptID:   uuid.NewString(),
		SequenceNo:  st.nextSeq,
		PrevHash:    st.prevHash,
		PayloadHash: canon.HashWithDomain(canon.DomainPayload, payloadBytes),
		Payload:     payload,
		KeyID:       l.signer.KeyID(),
		CreatedAt:   l.cfg.Now().UTC(),
	}

	signing, err := rec.signingBytes()
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: record not canonical: %w", err)
	}
	rec.Signature = l.signer.Sign(signing)

	if err := l.withRetry(ctx, "append", partition, func(ctx context.Context) error {
		return l.backend.AppendRecord(ctx, partition, rec)
	}); err != nil {
		return Receipt{}, err
	}

	st.nextSeq++
	st.prevHash = canon.HashWithDomain(canon.DomainReceipt, signing)

	l.logger.Info("ledger append",
		zap.String("partition", partition),
		zap.Int64("sequence_no", rec.SequenceNo),
		zap.String("receipt_id", rec.ReceiptID))
	return rec, nil
}

// seedPartition loads the chain tail from storage. Called under the
// partition lock.
func (l *Ledger) seedPartition(ctx context.Context, partition string, st *partitionState) error {
	var last Receipt
	var ok bool
	if err := l.withRetry(ctx, "last_record", partition, func(ctx context.Context) error {
		var err error
		last, ok, err = l.backend.LastRecord(ctx, partition)
		return err
	}); err != nil {
		return err
	}

	if !ok {
		st.nextSeq = 1
		st.prevHash = GenesisPrevHash
	} else {
		chain, err := last.ChainHash()
		if err != nil {
			return fmt.Errorf("ledger: seed partition %s: %w", partition, err)
		}
		st.nextSeq = last.SequenceNo + 1
		st.prevHash = chain
	}
	st.seeded = true
	return nil
}

// Cursor is a lazy, restartable verified read over one partition. Records
// come back in sequence order; the first record that fails verification is
// quarantined and surfaces as a ChainIntegrityViolation, after which the
// cursor stays halted.
type Cursor struct {
	ledger    *Ledger
	partition string
	fromSeq   int64
	toSeq     int64

	fetched  bool
	records  []Receipt
	corrupt  *CorruptRecordError // set when the fetch ended at undecodable bytes
	pos      int
	expected string // chain hash the next record must carry as prev_hash
	lastGood int64
	halted   error
}

// ReadRange opens a verified cursor over [fromSeq, toSeq] of partition.
// A toSeq of 0 means "to the end". Reads observe a snapshot of the ledger
// at fetch time and never block appends.
func (l *Ledger) ReadRange(ctx context.Context, partition string, fromSeq, toSeq int64) *Cursor {
	if fromSeq < 1 {
		fromSeq = 1
	}
	return &Cursor{
		ledger:    l,
		partition: partition,
		fromSeq:   fromSeq,
		toSeq:     toSeq,
		lastGood:  fromSeq - 1,
	}
}

// Next returns the next verified record. ok=false means the range is
// exhausted or the cursor halted; err carries the integrity violation in
// the latter case.
func (c *Cursor) Next(ctx context.Context) (Receipt, bool, error) {
	if c.halted != nil {
		return Receipt{}, false, c.halted
	}
	if !c.fetched {
		if err := c.fetch(ctx); err != nil {
			return Receipt{}, false, err
		}
	}
	if c.pos >= len(c.records) {
		if c.corrupt != nil {
			// The stored bytes past the verified prefix no longer decode.
			// Same treatment as any other integrity failure: quarantine,
			// halt, report the last good sequence.
			c.quarantineRaw(ctx, c.corrupt)
			c.halted = &ChainIntegrityViolation{
				Partition:   c.partition,
				BadSeq:      c.lastGood + 1,
				LastGoodSeq: c.lastGood,
				Reason:      fmt.Sprintf("record failed to decode: %v", c.corrupt.Err),
			}
			c.corrupt = nil
			return Receipt{}, false, c.halted
		}
		return Receipt{}, false, nil
	}

	rec := c.records[c.pos]
	if err := c.verify(ctx, rec); err != nil {
		c.halted = err
		return Receipt{}, false, err
	}

	c.pos++
	c.lastGood = rec.SequenceNo
	chain, err := rec.ChainHash()
	if err != nil {
		c.halted = err
		return Receipt{}, false, err
	}
	c.expected = chain
	return rec, true, nil
}

// LastGoodSeq returns the highest sequence number verified so far.
func (c *Cursor) LastGoodSeq() int64 { return c.lastGood }

func (c *Cursor) fetch(ctx context.Context) error {
	l := c.ledger

	// Seed the expected prev_hash. Starting at the chain head needs only
	// the genesis sentinel; starting mid-chain needs the predecessor.
	if c.fromSeq == 1 {
		c.expected = GenesisPrevHash
	} else {
		var prev []Receipt
		if err := l.withRetry(ctx, "read_range", c.partition, func(ctx context.Context) error {
			var err error
			prev, err = l.backend.ReadRange(ctx, c.partition, c.fromSeq-1, c.fromSeq-1)
			return err
		}); err != nil {
			var ce *CorruptRecordError
			if !errors.As(err, &ce) {
				return err
			}
			c.quarantineRaw(ctx, ce)
			return &ChainIntegrityViolation{
				Partition:   c.partition,
				BadSeq:      c.fromSeq - 1,
				LastGoodSeq: c.fromSeq - 2,
				Reason:      fmt.Sprintf("predecessor record failed to decode: %v", ce.Err),
			}
		}
		if len(prev) != 1 {
			return &ChainIntegrityViolation{
				Partition:   c.partition,
				BadSeq:      c.fromSeq,
				LastGoodSeq: c.fromSeq - 1,
				Reason:      "predecessor record missing, cannot seed chain verification",
			}
		}
		chain, err := prev[0].ChainHash()
		if err != nil {
			return err
		}
		c.expected = chain
	}

	if err := l.withRetry(ctx, "read_range", c.partition, func(ctx context.Context) error {
		var err error
		c.records, err = l.backend.ReadRange(ctx, c.partition, c.fromSeq, c.toSeq)
		return err
	}); err != nil {
		var ce *CorruptRecordError
		if !errors.As(err, &ce) {
			return err
		}
		// Keep the records before the corrupt line; the violation is
		// surfaced once the verified prefix has been walked.
		c.corrupt = ce
	}
	c.fetched = true
	return nil
}

// quarantineRaw preserves undecodable bytes in the quarantine sink.
// Failure to quarantine is logged, not fatal: the violation still halts
// the read.
func (c *Cursor) quarantineRaw(ctx context.Context, ce *CorruptRecordError) {
	l := c.ledger
	if err := l.backend.QuarantineRaw(ctx, c.partition, ce.Line, fmt.Sprintf("record failed to decode: %v", ce.Err)); err != nil {
		l.logger.Error("raw quarantine failed",
			zap.String("partition", c.partition),
			zap.Error(err))
		return
	}
	l.logger.Warn("undecodable ledger record quarantined",
		zap.String("partition", c.partition),
		zap.Int64("last_good_seq", c.lastGood))
}

// verify checks one record's linkage, payload hash, and signature. A
// failed record is quarantined and the violation reported with the
// last-known-good sequence number.
func (c *Cursor) verify(ctx context.Context, rec Receipt) error {
	fail := func(reason string) error {
		if qErr := c.ledger.backend.Quarantine(ctx, c.partition, rec, reason); qErr != nil {
			c.ledger.logger.Error("quarantine failed",
				zap.String("partition", c.partition),
				zap.Int64("sequence_no", rec.SequenceNo),
				zap.Error(qErr))
		}
		c.ledger.logger.Warn("ledger record quarantined",
			zap.String("partition", c.partition),
			zap.Int64("sequence_no", rec.SequenceNo),
			zap.String("reason", reason))
		return &ChainIntegrityViolation{
			Partition:   c.partition,
			BadSeq:      rec.SequenceNo,
			LastGoodSeq: c.lastGood,
			Reason:      reason,
		}
	}

	if rec.SequenceNo != c.lastGood+1 {
		return fail(fmt.Sprintf("sequence gap: want %d, got %d", c.lastGood+1, rec.SequenceNo))
	}
	if rec.PrevHash != c.expected {
		return fail("prev_hash does not match prior record")
	}

	payloadBytes, err := canon.MarshalCanonical(rec.Payload)
	if err != nil {
		return fail(fmt.Sprintf("payload not canonical: %v", err))
	}
	if canon.HashWithDomain(canon.DomainPayload, payloadBytes) != rec.PayloadHash {
		return fail("payload_hash does not match payload")
	}

	signing, err := rec.signingBytes()
	if err != nil {
		return fail(fmt.Sprintf("record not canonical: %v", err))
	}
	if !c.ledger.store.Verify(signing, rec.Signature, rec.KeyID, rec.CreatedAt) {
		return fail("signature verification failed")
	}
	return nil
}

// VerifyChain walks the whole partition and returns the last verified
// sequence number. A nil error means the chain is intact end-to-end.
func (l *Ledger) VerifyChain(ctx context.Context, partition string) (int64, error) {
	cur := l.ReadRange(ctx, partition, 1, 0)
	for {
		_, ok, err := cur.Next(ctx)
		if err != nil {
			return cur.LastGoodSeq(), err
		}
		if !ok {
			return cur.LastGoodSeq(), nil
		}
	}
}

// Quarantined exposes the quarantine sink for inspection tooling.
func (l *Ledger) Quarantined(ctx context.Context, partition string) ([]Receipt, error) {
	return l.backend.Quarantined(ctx, partition)
}

func (l *Ledger) partition(name string) *partitionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.parts[name]
	if !ok {
		st = &partitionState{}
		l.parts[name] = st
	}
	return st
}

// withRetry runs fn with bounded backoff for transient storage failures.
// Exhausted retries surface as LedgerUnavailable — callers treat that as
// "could not record evidence", never as success.
func (l *Ledger) withRetry(ctx context.Context, op, partition string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &UnavailableError{Partition: partition, Op: op, Err: err}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		// Undecodable stored bytes are an integrity failure, not a
		// transient one; retrying re-reads the same corruption.
		if IsCorruptRecord(lastErr) {
			return lastErr
		}
		if attempt < l.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return &UnavailableError{Partition: partition, Op: op, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * l.cfg.RetryBackoff):
			}
		}
	}
	return &UnavailableError{Partition: partition, Op: op, Err: lastErr}
}
