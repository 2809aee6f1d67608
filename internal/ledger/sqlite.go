package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added unique index on records.receipt_id
// 2 - Quarantine allows raw-byte entries with no sequence number
const currentSchemaVersion = 2

// SQLiteBackend stores ledger records in SQLite. WAL mode gives concurrent
// reads during writes; a single connection avoids SQLITE_BUSY on the write
// path.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite creates or opens a ledger database at path. Pragmas and
// migrations are applied automatically; calling it twice on the same file
// is safe.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		// CREATE UNIQUE INDEX IF NOT EXISTS is safe - no-op if index exists
		if _, err := db.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_records_receipt_id
			ON records(receipt_id)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		// The quarantine table loses its (partition, sequence_no) primary
		// key so raw-byte entries can be stored with a NULL sequence. SQLite
		// cannot alter constraints in place, so rebuild the table.
		stmts := []string{
			`CREATE TABLE quarantine_v2 (
				partition       TEXT NOT NULL,
				sequence_no     INTEGER,
				receipt_id      TEXT,
				line            BLOB NOT NULL,
				reason          TEXT NOT NULL,
				quarantined_at  TEXT NOT NULL
			)`,
			`INSERT INTO quarantine_v2
				SELECT partition, sequence_no, receipt_id, line, reason, quarantined_at
				FROM quarantine`,
			`DROP TABLE quarantine`,
			`ALTER TABLE quarantine_v2 RENAME TO quarantine`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_quarantine_partition_seq
				ON quarantine(partition, sequence_no) WHERE sequence_no IS NOT NULL`,
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v2: %w", err)
			}
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func (b *SQLiteBackend) AppendRecord(ctx context.Context, partition string, rec Receipt) error {
	line, err := rec.MarshalLine()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO records (partition, sequence_no, receipt_id, line)
		VALUES (?, ?, ?, ?)
	`, partition, rec.SequenceNo, rec.ReceiptID, line)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) ReadRange(ctx context.Context, partition string, fromSeq, toSeq int64) ([]Receipt, error) {
	query := `
		SELECT line FROM records
		WHERE partition = ? AND sequence_no >= ?
	`
	args := []any{partition, fromSeq}
	if toSeq > 0 {
		query += ` AND sequence_no <= ?`
		args = append(args, toSeq)
	}
	query += ` ORDER BY sequence_no ASC`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var line []byte
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := ParseLine(line)
		if err != nil {
			// Rows before the corrupt one come back so the chain logic can
			// report where the verified prefix ends.
			return out, &CorruptRecordError{
				Partition: partition,
				Line:      append([]byte(nil), line...),
				Err:       err,
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) LastRecord(ctx context.Context, partition string) (Receipt, bool, error) {
	var line []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT line FROM records
		WHERE partition = ?
		ORDER BY sequence_no DESC LIMIT 1
	`, partition).Scan(&line)
	if err == sql.ErrNoRows {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, fmt.Errorf("query last record: %w", err)
	}
	rec, err := ParseLine(line)
	if err != nil {
		return Receipt{}, false, &CorruptRecordError{
			Partition: partition,
			Line:      append([]byte(nil), line...),
			Err:       err,
		}
	}
	return rec, true, nil
}

func (b *SQLiteBackend) Quarantine(ctx context.Context, partition string, rec Receipt, reason string) error {
	line, err := rec.MarshalLine()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	// INSERT OR IGNORE keeps re-verification idempotent: quarantining the
	// same record twice records it once.
	_, err = b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO quarantine
			(partition, sequence_no, receipt_id, line, reason, quarantined_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, partition, rec.SequenceNo, rec.ReceiptID, line, reason,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert quarantine: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) QuarantineRaw(ctx context.Context, partition string, line []byte, reason string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO quarantine
			(partition, sequence_no, receipt_id, line, reason, quarantined_at)
		VALUES (?, NULL, NULL, ?, ?, ?)
	`, partition, line, reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert raw quarantine: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Quarantined(ctx context.Context, partition string) ([]Receipt, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT line FROM quarantine
		WHERE partition = ? AND sequence_no IS NOT NULL
		ORDER BY sequence_no ASC
	`, partition)
	if err != nil {
		return nil, fmt.Errorf("query quarantine: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var line []byte
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan quarantine: %w", err)
		}
		rec, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
