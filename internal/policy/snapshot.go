package policy

import (
	"fmt"
	"time"

	"github.com/wardenproj/warden/internal/canon"
)

// Status is a snapshot lifecycle state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusReview      Status = "review"
	StatusApproved    Status = "approved"
	StatusSigned      Status = "signed"
	StatusDistributed Status = "distributed"
	StatusRevoked     Status = "revoked"
)

// Severity is the outcome a triggered rule contributes to a decision.
type Severity string

const (
	SeverityPass      Severity = "pass"
	SeverityWarn      Severity = "warn"
	SeveritySoftBlock Severity = "soft_block"
	SeverityHardBlock Severity = "hard_block"
)

// ValidSeverities enumerates the rule severities the compiler accepts.
var ValidSeverities = map[Severity]bool{
	SeverityPass:      true,
	SeverityWarn:      true,
	SeveritySoftBlock: true,
	SeverityHardBlock: true,
}

// Operator is a rule comparison operator.
type Operator string

const (
	OpGT Operator = ">"
	OpGE Operator = ">="
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// ValidOperators enumerates the comparison operators the compiler accepts.
var ValidOperators = map[Operator]bool{
	OpGT: true, OpGE: true, OpLT: true, OpLE: true, OpEQ: true, OpNE: true,
}

// Rule is one row of the rubric: compare a named signal against a threshold
// and contribute the given severity when the comparison holds. Rules are a
// closed, validated table, not a runtime registry — the rule kinds are
// exactly the operators above.
type Rule struct {
	Name      string        `json:"name"`
	Signal    string        `json:"signal"`
	Operator  Operator      `json:"operator"`
	Threshold canon.Decimal `json:"threshold"`
	Severity  Severity      `json:"severity"`
	Weight    int64         `json:"weight"`
}

// Validate checks a single rule row.
func (r Rule) Validate() error {
	if r.Name == "" {
		return &Error{Code: ErrCodeInvalidRubric, Message: "rule name must not be empty"}
	}
	if r.Signal == "" {
		return &Error{Code: ErrCodeInvalidRubric, Message: fmt.Sprintf("rule %q: signal must not be empty", r.Name)}
	}
	if !ValidOperators[r.Operator] {
		return &Error{Code: ErrCodeInvalidRubric, Message: fmt.Sprintf("rule %q: unknown operator %q", r.Name, r.Operator)}
	}
	if !ValidSeverities[r.Severity] {
		return &Error{Code: ErrCodeInvalidRubric, Message: fmt.Sprintf("rule %q: unknown severity %q", r.Name, r.Severity)}
	}
	if _, err := canon.ParseDecimal(string(r.Threshold)); err != nil {
		return &Error{Code: ErrCodeInvalidRubric, Message: fmt.Sprintf("rule %q: bad threshold: %v", r.Name, err)}
	}
	return nil
}

// canonical returns the rule as a canonical object. Declaration order is
// carried by the enclosing array, not the row.
func (r Rule) canonical() canon.Object {
	return canon.Object{
		"name":      canon.String(r.Name),
		"signal":    canon.String(r.Signal),
		"operator":  canon.String(string(r.Operator)),
		"threshold": r.Threshold,
		"severity":  canon.String(string(r.Severity)),
		"weight":    canon.Int(r.Weight),
	}
}

// Snapshot is a versioned rule-set bundle. Until signed it is a mutable
// working document; after Sign it is frozen evidence.
type Snapshot struct {
	SnapshotID    string    `json:"snapshot_id"`
	Lineage       string    `json:"lineage"`
	Version       int64     `json:"version"`
	ContentHash   string    `json:"content_hash,omitempty"`
	Signature     []byte    `json:"signature,omitempty"`
	KeyID         string    `json:"key_id,omitempty"`
	Rules         []Rule    `json:"rules"`
	Status        Status    `json:"status"`
	EffectiveFrom time.Time `json:"effective_from"`
	SignedAt      time.Time `json:"signed_at,omitempty"`
}

// NewDraft creates a draft snapshot for a lineage.
func NewDraft(snapshotID, lineage string, version int64, effectiveFrom time.Time, rules []Rule) (*Snapshot, error) {
	if snapshotID == "" || lineage == "" {
		return nil, &Error{Code: ErrCodeInvalidRubric, Message: "snapshot_id and lineage are required"}
	}
	if len(rules) == 0 {
		return nil, &Error{Code: ErrCodeInvalidRubric, SnapshotID: snapshotID, Message: "rubric must contain at least one rule"}
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, &Error{Code: ErrCodeInvalidRubric, SnapshotID: snapshotID,
				Message: fmt.Sprintf("duplicate rule name %q", r.Name)}
		}
		seen[r.Name] = true
	}
	return &Snapshot{
		SnapshotID:    snapshotID,
		Lineage:       lineage,
		Version:       version,
		Rules:         rules,
		Status:        StatusDraft,
		EffectiveFrom: effectiveFrom,
	}, nil
}

// Usable reports whether decisions may reference this snapshot: it must be
// signed (or distributed) and not revoked.
func (s *Snapshot) Usable() bool {
	return s.Status == StatusSigned || s.Status == StatusDistributed
}

// canonicalBytes returns the bytes that are hashed and signed. Signature
// and content hash themselves are excluded so the encoding is reproducible
// from the distributed fields alone.
func (s *Snapshot) canonicalBytes() ([]byte, error) {
	rules := make(canon.Array, len(s.Rules))
	for i, r := range s.Rules {
		rules[i] = r.canonical()
	}
	obj := canon.Object{
		"snapshot_id":    canon.String(s.SnapshotID),
		"lineage":        canon.String(s.Lineage),
		"version":        canon.Int(s.Version),
		"effective_from": canon.String(s.EffectiveFrom.UTC().Format(time.RFC3339Nano)),
		"signed_at":      canon.String(s.SignedAt.UTC().Format(time.RFC3339Nano)),
		"rules":          rules,
	}
	return canon.MarshalCanonical(obj)
}
