package ledger

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/wardenproj/warden/internal/canon"
)

// GenesisPrevHash is the prev_hash of the first record in every partition.
// Knowing it (and nothing else) is enough to verify a chain end-to-end.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Receipt is one immutable ledger record. Created once, never mutated or
// deleted; an invalid record found on read is superseded by a quarantine
// marker, not removed.
type Receipt struct {
	ReceiptID   string       `json:"receipt_id"`
	SequenceNo  int64        `json:"sequence_no"`
	PrevHash    string       `json:"prev_hash"`
	PayloadHash string       `json:"payload_hash"`
	Payload     canon.Object `json:"payload"`
	Signature   []byte       `json:"signature"`
	KeyID       string       `json:"key_id"`
	CreatedAt   time.Time    `json:"created_at"`
}

// signingBytes returns the canonical record encoding that is hashed and
// signed: every field except the signature itself. The chain's prev_hash
// links are computed over these same bytes.
func (r Receipt) signingBytes() ([]byte, error) {
	return canon.MarshalCanonical(canon.Object{
		"receipt_id":   canon.String(r.ReceiptID),
		"sequence_no":  canon.Int(r.SequenceNo),
		"prev_hash":    canon.String(r.PrevHash),
		"payload_hash": canon.String(r.PayloadHash),
		"payload":      r.Payload,
		"key_id":       canon.String(r.KeyID),
		"created_at":   canon.String(r.CreatedAt.UTC().Format(time.RFC3339Nano)),
	})
}

// ChainHash returns the hash a successor record must carry as prev_hash.
func (r Receipt) ChainHash() (string, error) {
	b, err := r.signingBytes()
	if err != nil {
		return "", err
	}
	return canon.HashWithDomain(canon.DomainReceipt, b), nil
}

// MarshalLine encodes the receipt as one newline-free canonical JSON line,
// the ledger interchange format. The signature travels base64-encoded.
func (r Receipt) MarshalLine() ([]byte, error) {
	return canon.MarshalCanonical(canon.Object{
		"receipt_id":   canon.String(r.ReceiptID),
		"sequence_no":  canon.Int(r.SequenceNo),
		"prev_hash":    canon.String(r.PrevHash),
		"payload_hash": canon.String(r.PayloadHash),
		"payload":      r.Payload,
		"signature":    canon.String(base64.StdEncoding.EncodeToString(r.Signature)),
		"key_id":       canon.String(r.KeyID),
		"created_at":   canon.String(r.CreatedAt.UTC().Format(time.RFC3339Nano)),
	})
}

// ParseLine decodes one interchange line back into a Receipt. Structural
// problems (missing fields, malformed JSON, bad base64) are returned as
// errors; cryptographic verification is the Ledger's job, not the
// parser's.
func ParseLine(line []byte) (Receipt, error) {
	obj, err := canon.DecodeObject(line)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: parse record: %w", err)
	}

	var r Receipt
	if r.ReceiptID, err = stringField(obj, "receipt_id"); err != nil {
		return Receipt{}, err
	}
	seq, ok := obj["sequence_no"].(canon.Int)
	if !ok {
		return Receipt{}, fmt.Errorf("ledger: parse record: sequence_no missing or not an integer")
	}
	r.SequenceNo = int64(seq)
	if r.PrevHash, err = stringField(obj, "prev_hash"); err != nil {
		return Receipt{}, err
	}
	if r.PayloadHash, err = stringField(obj, "payload_hash"); err != nil {
		return Receipt{}, err
	}
	payload, ok := obj["payload"].(canon.Object)
	if !ok {
		return Receipt{}, fmt.Errorf("ledger: parse record: payload missing or not an object")
	}
	r.Payload = payload
	sigB64, err := stringField(obj, "signature")
	if err != nil {
		return Receipt{}, err
	}
	if r.Signature, err = base64.StdEncoding.DecodeString(sigB64); err != nil {
		return Receipt{}, fmt.Errorf("ledger: parse record: bad signature encoding: %w", err)
	}
	if r.KeyID, err = stringField(obj, "key_id"); err != nil {
		return Receipt{}, err
	}
	createdAt, err := stringField(obj, "created_at")
	if err != nil {
		return Receipt{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Receipt{}, fmt.Errorf("ledger: parse record: bad created_at: %w", err)
	}
	return r, nil
}

func stringField(obj canon.Object, key string) (string, error) {
	s, ok := obj[key].(canon.String)
	if !ok {
		return "", fmt.Errorf("ledger: parse record: %s missing or not a string", key)
	}
	return string(s), nil
}
