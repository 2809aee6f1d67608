package ledger

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wardenproj/warden/internal/canon"
)

// JSONLBackend stores each partition as a newline-delimited file of
// canonical record lines under a base directory. Quarantined records go to
// a ".quarantine" sidecar next to the partition file. The format is the
// ledger interchange format, so partition files can be shipped and
// verified elsewhere as-is.
type JSONLBackend struct {
	dir string
	mu  sync.Mutex
}

// OpenJSONL creates the base directory if needed and returns a backend
// over it.
func OpenJSONL(dir string) (*JSONLBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &JSONLBackend{dir: dir}, nil
}

// partitionPath maps a partition name to its file. Path separators in
// partition names are rejected rather than interpreted.
func (b *JSONLBackend) partitionPath(partition, suffix string) (string, error) {
	if partition == "" || strings.ContainsAny(partition, "/\\") {
		return "", fmt.Errorf("invalid partition name %q", partition)
	}
	return filepath.Join(b.dir, partition+suffix), nil
}

func (b *JSONLBackend) AppendRecord(ctx context.Context, partition string, rec Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.partitionPath(partition, ".jsonl")
	if err != nil {
		return err
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open partition file: %w", err)
	}
	defer f.Close()

	// Single write call keeps the line-plus-newline append atomic enough
	// for a lone writer; fsync makes it durable before we report success.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync partition file: %w", err)
	}
	return nil
}

// readAll parses a partition file. A line that no longer decodes stops the
// scan; the records before it come back alongside a CorruptRecordError so
// the chain logic can quarantine the bytes and report where the verified
// prefix ends.
func (b *JSONLBackend) readAll(partition, path string) ([]Receipt, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open partition file: %w", err)
	}
	defer f.Close()

	var out []Receipt
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return out, &CorruptRecordError{
				Partition: partition,
				Line:      append([]byte(nil), line...),
				Err:       err,
			}
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read partition file: %w", err)
	}
	return out, nil
}

func (b *JSONLBackend) ReadRange(ctx context.Context, partition string, fromSeq, toSeq int64) ([]Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.partitionPath(partition, ".jsonl")
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	recs, readErr := b.readAll(partition, path)
	var out []Receipt
	for _, rec := range recs {
		if rec.SequenceNo < fromSeq {
			continue
		}
		if toSeq > 0 && rec.SequenceNo > toSeq {
			continue
		}
		out = append(out, rec)
	}
	// Partial results travel with a CorruptRecordError.
	return out, readErr
}

func (b *JSONLBackend) LastRecord(ctx context.Context, partition string) (Receipt, bool, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, false, err
	}
	path, err := b.partitionPath(partition, ".jsonl")
	if err != nil {
		return Receipt{}, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	recs, err := b.readAll(partition, path)
	if err != nil {
		return Receipt{}, false, err
	}
	if len(recs) == 0 {
		return Receipt{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (b *JSONLBackend) Quarantine(ctx context.Context, partition string, rec Receipt, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.partitionPath(partition, ".quarantine")
	if err != nil {
		return err
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	obj, err := canon.DecodeObject(line)
	if err != nil {
		return err
	}
	return b.appendQuarantineEntry(path, canon.Object{
		"record":         obj,
		"reason":         canon.String(reason),
		"quarantined_at": canon.String(time.Now().UTC().Format(time.RFC3339Nano)),
	})
}

func (b *JSONLBackend) QuarantineRaw(ctx context.Context, partition string, line []byte, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.partitionPath(partition, ".quarantine")
	if err != nil {
		return err
	}
	// The bytes may not be valid JSON or even UTF-8 anymore, so they
	// travel base64-encoded.
	return b.appendQuarantineEntry(path, canon.Object{
		"raw":            canon.String(base64.StdEncoding.EncodeToString(line)),
		"reason":         canon.String(reason),
		"quarantined_at": canon.String(time.Now().UTC().Format(time.RFC3339Nano)),
	})
}

func (b *JSONLBackend) appendQuarantineEntry(path string, obj canon.Object) error {
	entry, err := canon.MarshalCanonical(obj)
	if err != nil {
		return fmt.Errorf("encode quarantine entry: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open quarantine file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(entry, '\n')); err != nil {
		return fmt.Errorf("append quarantine entry: %w", err)
	}
	return f.Sync()
}

func (b *JSONLBackend) Quarantined(ctx context.Context, partition string) ([]Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.partitionPath(partition, ".quarantine")
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open quarantine file: %w", err)
	}
	defer f.Close()

	var out []Receipt
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		obj, err := canon.DecodeObject(line)
		if err != nil {
			return nil, err
		}
		// Raw-byte entries have no decodable record; they stay in the file
		// for investigation but are not listed here.
		inner, ok := obj["record"].(canon.Object)
		if !ok {
			continue
		}
		innerLine, err := canon.MarshalCanonical(inner)
		if err != nil {
			return nil, err
		}
		rec, err := ParseLine(innerLine)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read quarantine file: %w", err)
	}
	return out, nil
}

func (b *JSONLBackend) Close() error { return nil }
