// Package noise deduplicates, rate-limits and suppresses alert traffic
// using content fingerprints, and tracks a false-positive-rate signal that
// feeds back into alert-quality metrics.
package noise

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wardenproj/warden/internal/canon"
)

// Alert is the identity-bearing view of an alert. Volatile fields such as
// timestamps and measured values are deliberately absent: two firings of
// the same rule from the same source at the same severity are the same
// alert for noise-control purposes.
type Alert struct {
	Source   string `json:"source"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
}

// Fingerprint computes the deterministic content fingerprint of the alert.
func (a Alert) Fingerprint() string {
	return canon.MustHashObject(canon.DomainFingerprint, canon.Object{
		"source":   canon.String(a.Source),
		"rule":     canon.String(a.Rule),
		"severity": canon.String(a.Severity),
	})
}

// DecisionKind is the processing outcome for one alert.
type DecisionKind string

const (
	DecisionPassThrough     DecisionKind = "pass_through"
	DecisionDedupSuppressed DecisionKind = "dedup_suppressed"
	DecisionRateLimited     DecisionKind = "rate_limited"
)

// Event is the structured noise-control record emitted for every processed
// alert, suppressed or not.
type Event struct {
	Fingerprint string       `json:"fingerprint"`
	Decision    DecisionKind `json:"decision"`
	WindowCount int64        `json:"window_count"`
	EmittedAt   time.Time    `json:"emitted_at"`
	Flagged     bool         `json:"flagged,omitempty"`
}

// CanonicalPayload returns the event as a canonical object for ledger
// append.
func (ev Event) CanonicalPayload() canon.Object {
	return canon.Object{
		"fingerprint":  canon.String(ev.Fingerprint),
		"decision":     canon.String(string(ev.Decision)),
		"window_count": canon.Int(ev.WindowCount),
		"emitted_at":   canon.String(ev.EmittedAt.UTC().Format(time.RFC3339Nano)),
		"flagged":      canon.Bool(ev.Flagged),
	}
}

// FingerprintRecord is the tracked state for one fingerprint.
type FingerprintRecord struct {
	Fingerprint   string    `json:"fingerprint"`
	LastSeen      time.Time `json:"last_seen"`
	CountInWindow int64     `json:"count_in_window"`
}

// Config is the immutable noise-control configuration. All windows are
// required; there are no baked-in defaults.
type Config struct {
	// DedupWindow collapses repeats of the same fingerprint into one
	// pass-through.
	DedupWindow time.Duration

	// RateWindow and MaxPerWindow cap how many distinct firings of the
	// same fingerprint may pass through in a rolling window.
	RateWindow   time.Duration
	MaxPerWindow int
}

// Validate rejects unset windows.
func (c Config) Validate() error {
	if c.DedupWindow <= 0 {
		return fmt.Errorf("noise: dedup_window must be configured and positive")
	}
	if c.RateWindow <= 0 || c.MaxPerWindow <= 0 {
		return fmt.Errorf("noise: rate_window and max_per_window must be configured and positive")
	}
	return nil
}

type fingerprintState struct {
	lastSeen      time.Time
	countInWindow int64
	firings       []time.Time // pass-through instants inside the rate window
}

// Processor applies dedup and rate limiting per fingerprint.
// Thread-safe.
type Processor struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	states     map[string]*fingerprintState
	observed   int64
	suppressed int64
}

// NewProcessor validates cfg and builds a processor.
func NewProcessor(cfg Config, logger *zap.Logger) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*fingerprintState),
	}, nil
}

// Process classifies one alert at instant now and returns the noise-control
// event together with the updated fingerprint record.
func (p *Processor) Process(alert Alert, now time.Time) (Event, FingerprintRecord) {
	fp := alert.Fingerprint()

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[fp]
	if !ok {
		st = &fingerprintState{}
		p.states[fp] = st
	}

	var decision DecisionKind
	var flagged bool

	switch {
	case st.countInWindow > 0 && now.Sub(st.lastSeen) < p.cfg.DedupWindow:
		// Repeat inside the dedup window.
		st.countInWindow++
		decision = DecisionDedupSuppressed

	default:
		// Fresh dedup window: this would be a distinct firing. Enforce the
		// rolling rate limit over recent pass-throughs first.
		st.countInWindow = 1
		cutoff := now.Add(-p.cfg.RateWindow)
		kept := st.firings[:0]
		for _, ts := range st.firings {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		st.firings = kept

		if len(st.firings) >= p.cfg.MaxPerWindow {
			decision = DecisionRateLimited
			flagged = true
		} else {
			decision = DecisionPassThrough
			st.firings = append(st.firings, now)
		}
	}
	st.lastSeen = now

	p.observed++
	if decision != DecisionPassThrough {
		p.suppressed++
	}

	ev := Event{
		Fingerprint: fp,
		Decision:    decision,
		WindowCount: st.countInWindow,
		EmittedAt:   now.UTC(),
		Flagged:     flagged,
	}
	rec := FingerprintRecord{
		Fingerprint:   fp,
		LastSeen:      st.lastSeen,
		CountInWindow: st.countInWindow,
	}

	p.logger.Debug("noise-control event",
		zap.String("fingerprint", fp),
		zap.String("decision", string(decision)),
		zap.Int64("window_count", st.countInWindow))
	return ev, rec
}

// FalsePositiveRate is the fraction of observed alerts that were
// suppressed. It approximates how much of the alert stream is noise and
// feeds back into alert-quality dashboards.
func (p *Processor) FalsePositiveRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observed == 0 {
		return 0
	}
	return float64(p.suppressed) / float64(p.observed)
}
