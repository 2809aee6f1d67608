package ledger

import (
	"context"
	"sync"
)

// MemoryBackend keeps partitions in memory. Used by tests and as the
// reference implementation of Backend semantics.
type MemoryBackend struct {
	mu          sync.RWMutex
	partitions  map[string][]Receipt
	quarantined map[string][]quarantineEntry
	rawLines    map[string][]rawQuarantineEntry

	// FailAppends makes every append fail, for exercising retry and
	// LedgerUnavailable paths.
	FailAppends error
}

type quarantineEntry struct {
	rec    Receipt
	reason string
}

type rawQuarantineEntry struct {
	line   []byte
	reason string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		partitions:  make(map[string][]Receipt),
		quarantined: make(map[string][]quarantineEntry),
		rawLines:    make(map[string][]rawQuarantineEntry),
	}
}

func (m *MemoryBackend) AppendRecord(ctx context.Context, partition string, rec Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends != nil {
		return m.FailAppends
	}
	m.partitions[partition] = append(m.partitions[partition], rec)
	return nil
}

func (m *MemoryBackend) ReadRange(ctx context.Context, partition string, fromSeq, toSeq int64) ([]Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Receipt
	for _, rec := range m.partitions[partition] {
		if rec.SequenceNo < fromSeq {
			continue
		}
		if toSeq > 0 && rec.SequenceNo > toSeq {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryBackend) LastRecord(ctx context.Context, partition string) (Receipt, bool, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.partitions[partition]
	if len(recs) == 0 {
		return Receipt{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (m *MemoryBackend) Quarantine(ctx context.Context, partition string, rec Receipt, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined[partition] = append(m.quarantined[partition], quarantineEntry{rec: rec, reason: reason})
	return nil
}

func (m *MemoryBackend) QuarantineRaw(ctx context.Context, partition string, line []byte, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawLines[partition] = append(m.rawLines[partition], rawQuarantineEntry{
		line:   append([]byte(nil), line...),
		reason: reason,
	})
	return nil
}

func (m *MemoryBackend) Quarantined(ctx context.Context, partition string) ([]Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Receipt, 0, len(m.quarantined[partition]))
	for _, e := range m.quarantined[partition] {
		out = append(out, e.rec)
	}
	return out, nil
}

// QuarantineReasons returns the reason recorded alongside each quarantined
// record, in quarantine order.
func (m *MemoryBackend) QuarantineReasons(partition string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.quarantined[partition]))
	for _, e := range m.quarantined[partition] {
		out = append(out, e.reason)
	}
	return out
}

// QuarantinedRaw returns the raw-byte entries captured by QuarantineRaw.
func (m *MemoryBackend) QuarantinedRaw(partition string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, 0, len(m.rawLines[partition]))
	for _, e := range m.rawLines[partition] {
		out = append(out, append([]byte(nil), e.line...))
	}
	return out
}

func (m *MemoryBackend) Close() error { return nil }

// Corrupt replaces the stored record at index i of partition, bypassing
// all verification. Test hook for integrity scenarios.
func (m *MemoryBackend) Corrupt(partition string, i int, mutate func(*Receipt)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.partitions[partition][i])
}
