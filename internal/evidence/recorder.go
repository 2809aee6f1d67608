// Package evidence appends component outcomes to the evidence ledger.
// Each outcome type gets its own partition, so decisions, burn-rate
// alerts, and noise-control events each form an independent chain.
package evidence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wardenproj/warden/internal/burnrate"
	"github.com/wardenproj/warden/internal/gate"
	"github.com/wardenproj/warden/internal/ledger"
	"github.com/wardenproj/warden/internal/noise"
)

// Partition names, one per outcome stream.
const (
	PartitionDecisions = "decisions"
	PartitionAlerts    = "alerts"
	PartitionNoise     = "noise"
)

// Recorder writes signed receipts for component outcomes. An append
// failure is the caller's to handle: a decision that could not be
// recorded must not be treated as recorded.
type Recorder struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewRecorder wraps a ledger. The ledger must carry a signer. A nil
// logger is replaced with a nop.
func NewRecorder(led *ledger.Ledger, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{ledger: led, logger: logger}
}

// RecordDecision appends a gate decision to the decisions partition.
func (r *Recorder) RecordDecision(ctx context.Context, d gate.Decision) (ledger.Receipt, error) {
	rec, err := r.ledger.Append(ctx, PartitionDecisions, d.CanonicalPayload())
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("evidence: record decision %s: %w", d.DecisionID, err)
	}
	r.logger.Info("decision recorded",
		zap.String("decision_id", d.DecisionID),
		zap.String("receipt_id", rec.ReceiptID),
		zap.Int64("sequence_no", rec.SequenceNo))
	return rec, nil
}

// RecordAlert appends a burn-rate evaluation to the alerts partition.
func (r *Recorder) RecordAlert(ctx context.Context, ev burnrate.Evaluation) (ledger.Receipt, error) {
	payload, err := ev.CanonicalPayload()
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("evidence: record alert: %w", err)
	}
	rec, err := r.ledger.Append(ctx, PartitionAlerts, payload)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("evidence: record alert: %w", err)
	}
	r.logger.Info("alert recorded",
		zap.String("tier", string(ev.Tier)),
		zap.Bool("fired", ev.Fired),
		zap.String("receipt_id", rec.ReceiptID))
	return rec, nil
}

// RecordNoiseEvent appends a noise-control event to the noise partition.
func (r *Recorder) RecordNoiseEvent(ctx context.Context, ev noise.Event) (ledger.Receipt, error) {
	rec, err := r.ledger.Append(ctx, PartitionNoise, ev.CanonicalPayload())
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("evidence: record noise event %s: %w", ev.Fingerprint, err)
	}
	r.logger.Info("noise event recorded",
		zap.String("fingerprint", ev.Fingerprint),
		zap.String("decision", string(ev.Decision)),
		zap.String("receipt_id", rec.ReceiptID))
	return rec, nil
}
