package ledger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/trust"
)

// backendUnderTest runs the shared conformance suite against each durable
// backend. The memory backend is covered implicitly by the ledger tests.
func backendsUnderTest(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
		"jsonl": func(t *testing.T) Backend {
			b, err := OpenJSONL(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
	}
}

func TestBackendAppendAndRead(t *testing.T) {
	for name, open := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			backend := open(t)
			led, _ := newTestLedger(t, backend)
			want := appendN(t, led, "decisions", 4)

			ctx := context.Background()
			got, err := backend.ReadRange(ctx, "decisions", 1, 0)
			require.NoError(t, err)
			require.Len(t, got, 4)
			for i := range want {
				assert.Equal(t, want[i].ReceiptID, got[i].ReceiptID)
				assert.Equal(t, want[i].SequenceNo, got[i].SequenceNo)
				assert.Equal(t, want[i].Signature, got[i].Signature)
			}

			mid, err := backend.ReadRange(ctx, "decisions", 2, 3)
			require.NoError(t, err)
			require.Len(t, mid, 2)
			assert.Equal(t, int64(2), mid[0].SequenceNo)
			assert.Equal(t, int64(3), mid[1].SequenceNo)
		})
	}
}

func TestBackendLastRecord(t *testing.T) {
	for name, open := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			backend := open(t)
			ctx := context.Background()

			_, ok, err := backend.LastRecord(ctx, "decisions")
			require.NoError(t, err)
			assert.False(t, ok)

			led, _ := newTestLedger(t, backend)
			appendN(t, led, "decisions", 3)

			last, ok, err := backend.LastRecord(ctx, "decisions")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(3), last.SequenceNo)
		})
	}
}

func TestBackendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	signer, record, err := trust.GenerateSigner("ledger-key-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	store := trust.NewStore(nil)
	require.NoError(t, store.RegisterKey(record))
	cfg := Config{RetryAttempts: 1}

	b1, err := OpenSQLite(path)
	require.NoError(t, err)
	led1, err := New(b1, store, signer, cfg, nil)
	require.NoError(t, err)
	appendN(t, led1, "decisions", 2)
	require.NoError(t, b1.Close())

	b2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b2.Close()
	led2, err := New(b2, store, signer, cfg, nil)
	require.NoError(t, err)

	rec, err := led2.Append(context.Background(), "decisions", canon.Object{
		"action": canon.String("deploy"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.SequenceNo)

	last, err := led2.VerifyChain(context.Background(), "decisions")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestBackendQuarantinePreservesRecord(t *testing.T) {
	for name, open := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			backend := open(t)
			led, _ := newTestLedger(t, backend)
			recs := appendN(t, led, "decisions", 1)

			ctx := context.Background()
			require.NoError(t, backend.Quarantine(ctx, "decisions", recs[0], "test reason"))

			q, err := backend.Quarantined(ctx, "decisions")
			require.NoError(t, err)
			require.Len(t, q, 1)
			assert.Equal(t, recs[0].ReceiptID, q[0].ReceiptID)

			// Quarantine is a copy, not a move: the record stays readable.
			got, err := backend.ReadRange(ctx, "decisions", 1, 0)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestUndecodableRecordQuarantinedAndHalts(t *testing.T) {
	type fixture struct {
		backend    Backend
		corrupt    func(t *testing.T)
		rawEntries func(t *testing.T) int
	}
	cases := map[string]func(t *testing.T) fixture{
		"jsonl": func(t *testing.T) fixture {
			dir := t.TempDir()
			b, err := OpenJSONL(dir)
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			path := filepath.Join(dir, "decisions.jsonl")
			return fixture{
				backend: b,
				corrupt: func(t *testing.T) {
					// Break JSON well-formedness of the third line, not just
					// a value inside it.
					data, err := os.ReadFile(path)
					require.NoError(t, err)
					mangled := bytes.Replace(data, []byte(`"index":2`), []byte(`xindex":2`), 1)
					require.NotEqual(t, data, mangled)
					require.NoError(t, os.WriteFile(path, mangled, 0o644))
				},
				rawEntries: func(t *testing.T) int {
					data, err := os.ReadFile(filepath.Join(dir, "decisions.quarantine"))
					require.NoError(t, err)
					assert.Contains(t, string(data), `"raw"`)
					return len(bytes.Split(bytes.TrimSpace(data), []byte("\n")))
				},
			}
		},
		"sqlite": func(t *testing.T) fixture {
			b, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return fixture{
				backend: b,
				corrupt: func(t *testing.T) {
					_, err := b.db.Exec(
						`UPDATE records SET line = ? WHERE partition = ? AND sequence_no = ?`,
						[]byte(`{"receipt_id": truncated`), "decisions", 3)
					require.NoError(t, err)
				},
				rawEntries: func(t *testing.T) int {
					var n int
					require.NoError(t, b.db.QueryRow(
						`SELECT COUNT(*) FROM quarantine WHERE partition = ? AND sequence_no IS NULL`,
						"decisions").Scan(&n))
					return n
				},
			}
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			fx := setup(t)
			led, _ := newTestLedger(t, fx.backend)
			appendN(t, led, "decisions", 4)
			fx.corrupt(t)

			// Undecodable bytes are an integrity failure with a last-good
			// sequence, never a retried-then-unavailable storage failure.
			ctx := context.Background()
			last, err := led.VerifyChain(ctx, "decisions")
			var violation *ChainIntegrityViolation
			require.ErrorAs(t, err, &violation)
			assert.False(t, IsUnavailable(err))
			assert.Equal(t, int64(3), violation.BadSeq)
			assert.Equal(t, int64(2), violation.LastGoodSeq)
			assert.Equal(t, int64(2), last)

			assert.Equal(t, 1, fx.rawEntries(t))

			// Raw-byte entries do not break listing quarantined records.
			q, err := fx.backend.Quarantined(ctx, "decisions")
			require.NoError(t, err)
			assert.Empty(t, q)
		})
	}
}
