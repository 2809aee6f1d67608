// Package burnrate computes multi-window error-budget burn rates and fires
// tiered alerts. It consumes the same threshold/window configuration style
// as the gate engine but operates over continuous time-series samples
// rather than discrete events.
package burnrate

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wardenproj/warden/internal/canon"
)

// Tier is the alert tier of one evaluation.
type Tier string

const (
	TierFast Tier = "fast"
	TierSlow Tier = "slow"
	TierNone Tier = "none"
)

// WindowSample is an aggregated error/total count for one window.
type WindowSample struct {
	WindowName string    `json:"window_name"`
	ErrorCount int64     `json:"error_count"`
	TotalCount int64     `json:"total_count"`
	ObservedAt time.Time `json:"observed_at"`
}

// Samples carries the three windows of one evaluation.
type Samples struct {
	Short WindowSample
	Mid   WindowSample
	Long  WindowSample
}

// Config is the immutable burn-rate configuration. All thresholds come
// from configuration; nothing is hard-coded.
type Config struct {
	SLOObjective         float64 // e.g. 0.99
	FastThreshold        float64 // short-window burn rate to open a fast alert
	FastConfirmThreshold float64 // long-window burn rate confirming it
	SlowThreshold        float64 // mid-window burn rate to open a slow alert
	SlowConfirmThreshold float64 // long-window burn rate confirming it
	MinTraffic           int64   // minimum long-window total_count to evaluate at all

	// ConfidenceThreshold optionally gates firing on a statistical
	// confidence score supplied by the caller, for noisy signal types.
	// Nil disables the gate.
	ConfidenceThreshold *float64
}

// Validate rejects configurations that would divide by zero or evaluate
// with unset thresholds.
func (c Config) Validate() error {
	if c.SLOObjective <= 0 || c.SLOObjective >= 1 {
		return fmt.Errorf("burnrate: slo_objective must be in (0,1), got %v", c.SLOObjective)
	}
	if c.FastThreshold <= 0 || c.FastConfirmThreshold <= 0 {
		return fmt.Errorf("burnrate: fast thresholds must be configured and positive")
	}
	if c.SlowThreshold <= 0 || c.SlowConfirmThreshold <= 0 {
		return fmt.Errorf("burnrate: slow thresholds must be configured and positive")
	}
	if c.MinTraffic <= 0 {
		return fmt.Errorf("burnrate: min_traffic must be configured and positive")
	}
	if c.ConfidenceThreshold != nil && (*c.ConfidenceThreshold <= 0 || *c.ConfidenceThreshold > 1) {
		return fmt.Errorf("burnrate: confidence_threshold must be in (0,1]")
	}
	return nil
}

// Evaluation is the immutable outcome of one burn-rate check.
type Evaluation struct {
	Tier         Tier      `json:"tier"`
	Fired        bool      `json:"fired"`
	Confidence   *float64  `json:"confidence,omitempty"`
	SLOObjective float64   `json:"slo_objective"`
	BurnShort    float64   `json:"burn_short"`
	BurnMid      float64   `json:"burn_mid"`
	BurnLong     float64   `json:"burn_long"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
	ReasonCode   string    `json:"reason_code,omitempty"`
}

// CanonicalPayload returns the evaluation as a canonical object for ledger
// append.
func (ev Evaluation) CanonicalPayload() (canon.Object, error) {
	obj := canon.Object{
		"tier":         canon.String(string(ev.Tier)),
		"fired":        canon.Bool(ev.Fired),
		"evaluated_at": canon.String(ev.EvaluatedAt.UTC().Format(time.RFC3339Nano)),
	}
	for name, f := range map[string]float64{
		"slo_objective": ev.SLOObjective,
		"burn_short":    ev.BurnShort,
		"burn_mid":      ev.BurnMid,
		"burn_long":     ev.BurnLong,
	} {
		d, err := canon.DecimalFromFloat(f)
		if err != nil {
			return nil, fmt.Errorf("burnrate: %s: %w", name, err)
		}
		obj[name] = d
	}
	if ev.Confidence != nil {
		d, err := canon.DecimalFromFloat(*ev.Confidence)
		if err != nil {
			return nil, fmt.Errorf("burnrate: confidence: %w", err)
		}
		obj["confidence"] = d
	}
	if ev.ReasonCode != "" {
		obj["reason_code"] = canon.String(ev.ReasonCode)
	}
	return obj, nil
}

// Engine evaluates burn rates against a fixed Config. Stateless; safe for
// concurrent use.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// BurnRate computes error_count/total_count/(1-objective) for one window.
// A window with no traffic burns nothing.
func (e *Engine) BurnRate(s WindowSample) float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.TotalCount) / (1 - e.cfg.SLOObjective)
}

// Evaluate runs the multi-window policy:
//
//	fast: burn(short) > fast_threshold AND burn(long) > fast_confirm
//	slow: burn(mid)   > slow_threshold AND burn(long) > slow_confirm
//
// The long window's total count gates evaluation entirely: below
// MinTraffic the result is tier none, not a guess in either direction.
// confidence, when non-nil, must clear the configured confidence gate
// before either tier fires.
func (e *Engine) Evaluate(s Samples, confidence *float64, at time.Time) Evaluation {
	ev := Evaluation{
		Tier:         TierNone,
		SLOObjective: e.cfg.SLOObjective,
		BurnShort:    e.BurnRate(s.Short),
		BurnMid:      e.BurnRate(s.Mid),
		BurnLong:     e.BurnRate(s.Long),
		Confidence:   confidence,
		EvaluatedAt:  at.UTC(),
	}

	if s.Long.TotalCount < e.cfg.MinTraffic {
		ev.ReasonCode = "min_traffic_not_met"
		return ev
	}

	fast := ev.BurnShort > e.cfg.FastThreshold && ev.BurnLong > e.cfg.FastConfirmThreshold
	slow := ev.BurnMid > e.cfg.SlowThreshold && ev.BurnLong > e.cfg.SlowConfirmThreshold

	if !fast && !slow {
		return ev
	}

	if e.cfg.ConfidenceThreshold != nil {
		if confidence == nil || *confidence < *e.cfg.ConfidenceThreshold {
			ev.ReasonCode = "confidence_below_threshold"
			return ev
		}
	}

	if fast {
		ev.Tier = TierFast
	} else {
		ev.Tier = TierSlow
	}
	ev.Fired = true

	e.logger.Warn("burn-rate alert fired",
		zap.String("tier", string(ev.Tier)),
		zap.Float64("burn_short", ev.BurnShort),
		zap.Float64("burn_mid", ev.BurnMid),
		zap.Float64("burn_long", ev.BurnLong))
	return ev
}
