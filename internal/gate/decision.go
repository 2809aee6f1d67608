package gate

import (
	"time"

	"github.com/wardenproj/warden/internal/canon"
)

// Status is the ordinal outcome of a gate evaluation.
type Status string

const (
	StatusPass      Status = "pass"
	StatusWarn      Status = "warn"
	StatusSoftBlock Status = "soft_block"
	// StatusUnknown is produced when a rubric references a signal absent
	// from the inputs. A missing signal is a visibility failure, so it
	// ranks above soft_block: it blocks relaxation but stays below an
	// explicit hard_block rule hit.
	StatusUnknown   Status = "unknown"
	StatusHardBlock Status = "hard_block"
)

// Valid reports whether s names one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusWarn, StatusSoftBlock, StatusUnknown, StatusHardBlock:
		return true
	}
	return false
}

// Rank returns the ordinal severity used for comparisons and hysteresis.
func (s Status) Rank() int {
	switch s {
	case StatusPass:
		return 0
	case StatusWarn:
		return 1
	case StatusSoftBlock:
		return 2
	case StatusUnknown:
		return 3
	case StatusHardBlock:
		return 4
	default:
		return 4 // unrecognized statuses are treated as most severe
	}
}

// ExitCode maps a status onto the CLI exit-code contract:
// 0=pass, 1=warn, 2=soft_block, 3=hard_block. Unknown maps to 2.
func (s Status) ExitCode() int {
	switch s {
	case StatusPass:
		return 0
	case StatusWarn:
		return 1
	case StatusSoftBlock, StatusUnknown:
		return 2
	default:
		return 3
	}
}

// Input is one evaluation's worth of named signals. Values are restricted
// to the canonical numeric and boolean types so the resulting decision
// payload is byte-stable.
type Input struct {
	Signals    map[string]canon.Value
	HighStakes bool
}

// Decision is the immutable outcome of one evaluation. It references
// exactly one snapshot that was valid at evaluation time.
type Decision struct {
	DecisionID  string    `json:"decision_id"`
	EntityID    string    `json:"entity_id"`
	SnapshotID  string    `json:"snapshot_id"`
	Status      Status    `json:"status"`
	ReasonCodes []string  `json:"reason_codes"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	HighStakes  bool      `json:"high_stakes"`
}

// CanonicalPayload returns the decision as a canonical object suitable for
// hashing, signing, and ledger append. Serializing and re-parsing a
// decision reproduces these bytes exactly.
func (d Decision) CanonicalPayload() canon.Object {
	codes := make(canon.Array, len(d.ReasonCodes))
	for i, c := range d.ReasonCodes {
		codes[i] = canon.String(c)
	}
	return canon.Object{
		"decision_id":  canon.String(d.DecisionID),
		"entity_id":    canon.String(d.EntityID),
		"snapshot_id":  canon.String(d.SnapshotID),
		"status":       canon.String(string(d.Status)),
		"reason_codes": codes,
		"evaluated_at": canon.String(d.EvaluatedAt.UTC().Format(time.RFC3339Nano)),
		"high_stakes":  canon.Bool(d.HighStakes),
	}
}
