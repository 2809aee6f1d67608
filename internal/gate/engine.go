package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/policy"
)

// ReasonHysteresisHold marks a decision whose raw outcome was calmer than
// the reported status but is being held by the dwell timer.
const ReasonHysteresisHold = "hysteresis_hold"

// Config is the immutable engine configuration. It is passed in explicitly;
// the engine reads no ambient state.
type Config struct {
	// DwellTime is how long a calmer status must be continuously
	// re-confirmed before a de-escalation is honored. Required, no default.
	DwellTime time.Duration

	// FallbackStatus is what callers should report when evaluation cannot
	// complete with verified trust. Defaults to hard_block, the most
	// conservative status, when left empty.
	FallbackStatus Status
}

// Fallback returns the configured conservative fallback status.
func (c Config) Fallback() Status {
	if c.FallbackStatus == "" {
		return StatusHardBlock
	}
	return c.FallbackStatus
}

// Engine evaluates rubrics with per-entity hysteresis. Engines evaluating
// different entities share nothing except this state table, which is
// guarded by a mutex; everything else is parameters.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*entityState
}

type entityState struct {
	current        Status
	enteredAt      time.Time
	candidate      Status
	candidateSince time.Time
	holdingCalm    bool
}

// NewEngine creates an engine. A nil logger is replaced with a nop.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.DwellTime <= 0 {
		return nil, fmt.Errorf("gate: dwell time must be configured and positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*entityState),
	}, nil
}

// Evaluate runs the snapshot's ordered rubric against the inputs and
// returns the decision for entityID at instant at.
//
// The raw outcome is the most severe severity among triggered rules, ties
// broken by declaration order. A rubric referencing an absent signal
// contributes unknown with a missing_input reason code rather than a
// silent pass. The raw outcome then passes through the hysteresis filter.
//
// A snapshot that is not signed/distributed, or has been revoked, yields a
// PolicyUnavailable error regardless of its history; the caller applies
// Config.Fallback rather than retrying.
func (e *Engine) Evaluate(entityID string, in Input, snap *policy.Snapshot, at time.Time) (Decision, error) {
	if snap == nil || !snap.Usable() {
		id := ""
		if snap != nil {
			id = snap.SnapshotID
		}
		return Decision{}, &policy.Error{
			Code:       policy.ErrCodePolicyUnavailable,
			SnapshotID: id,
			Message:    "evaluation requires a signed, non-revoked snapshot",
		}
	}

	raw, reasons := evaluateRubric(snap.Rules, in)
	status, held := e.applyHysteresis(entityID, raw, at)
	if held {
		reasons = append(reasons, ReasonHysteresisHold)
	}

	d := Decision{
		DecisionID:  uuid.NewString(),
		EntityID:    entityID,
		SnapshotID:  snap.SnapshotID,
		Status:      status,
		ReasonCodes: reasons,
		EvaluatedAt: at.UTC(),
		HighStakes:  in.HighStakes,
	}

	e.logger.Info("gate decision",
		zap.String("entity_id", entityID),
		zap.String("snapshot_id", snap.SnapshotID),
		zap.String("status", string(status)),
		zap.String("raw_status", string(raw)),
		zap.Strings("reason_codes", reasons))
	return d, nil
}

// evaluateRubric computes the raw (pre-hysteresis) outcome. Reason codes
// are emitted in rule declaration order; missing-input codes appear where
// the referencing rule sits in the rubric.
func evaluateRubric(rules []policy.Rule, in Input) (Status, []string) {
	status := StatusPass
	reasons := []string{}
	missing := make(map[string]bool)

	for _, rule := range rules {
		val, ok := in.Signals[rule.Signal]
		if !ok {
			if !missing[rule.Signal] {
				missing[rule.Signal] = true
				reasons = append(reasons, "missing_input:"+rule.Signal)
				if StatusUnknown.Rank() > status.Rank() {
					status = StatusUnknown
				}
			}
			continue
		}

		triggered, err := compare(val, rule.Operator, rule.Threshold)
		if err != nil {
			// Wrong signal type for the rule: same visibility failure as
			// an absent signal.
			if !missing[rule.Signal] {
				missing[rule.Signal] = true
				reasons = append(reasons, "missing_input:"+rule.Signal)
				if StatusUnknown.Rank() > status.Rank() {
					status = StatusUnknown
				}
			}
			continue
		}
		if !triggered {
			continue
		}

		reasons = append(reasons, rule.Name)
		if ruleStatus(rule.Severity).Rank() > status.Rank() {
			status = ruleStatus(rule.Severity)
		}
	}
	return status, reasons
}

func ruleStatus(sev policy.Severity) Status {
	switch sev {
	case policy.SeverityPass:
		return StatusPass
	case policy.SeverityWarn:
		return StatusWarn
	case policy.SeveritySoftBlock:
		return StatusSoftBlock
	case policy.SeverityHardBlock:
		return StatusHardBlock
	default:
		return StatusHardBlock
	}
}

// compare applies a rule operator to a signal value. Booleans compare as
// 1/0 so a rule like {signal: high_risk, operator: ==, threshold: 1}
// triggers on true.
func compare(val canon.Value, op policy.Operator, threshold canon.Decimal) (bool, error) {
	var v float64
	switch t := val.(type) {
	case canon.Int:
		v = float64(t)
	case canon.Decimal:
		v = t.Float()
	case canon.Bool:
		if t {
			v = 1
		}
	default:
		return false, fmt.Errorf("gate: signal value %T is not comparable", val)
	}

	th := threshold.Float()
	switch op {
	case policy.OpGT:
		return v > th, nil
	case policy.OpGE:
		return v >= th, nil
	case policy.OpLT:
		return v < th, nil
	case policy.OpLE:
		return v <= th, nil
	case policy.OpEQ:
		return v == th, nil
	case policy.OpNE:
		return v != th, nil
	default:
		return false, fmt.Errorf("gate: unknown operator %q", op)
	}
}

// applyHysteresis filters the raw status through the per-entity dwell
// rules. More severe: honored immediately. Equally severe: steady state.
// Less severe: held at the current status until raw has been continuously
// re-confirmed at or below the candidate for the dwell time.
func (e *Engine) applyHysteresis(entityID string, raw Status, at time.Time) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[entityID]
	if !ok {
		e.states[entityID] = &entityState{current: raw, enteredAt: at}
		return raw, false
	}

	switch {
	case raw.Rank() > st.current.Rank():
		// Escalation is immediate.
		st.current = raw
		st.enteredAt = at
		st.holdingCalm = false
		return raw, false

	case raw.Rank() == st.current.Rank():
		st.holdingCalm = false
		return st.current, false

	default:
		// De-escalation: restart the dwell timer whenever the calmer
		// status changes, accept once it has been held long enough.
		if !st.holdingCalm || st.candidate != raw {
			st.holdingCalm = true
			st.candidate = raw
			st.candidateSince = at
			return st.current, true
		}
		if at.Sub(st.candidateSince) >= e.cfg.DwellTime {
			st.current = raw
			st.enteredAt = at
			st.holdingCalm = false
			return raw, false
		}
		return st.current, true
	}
}
