// Package config loads the warden YAML configuration. Every operational
// knob must be stated explicitly in the file; there are no baked-in
// numeric defaults to silently fall back to.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenproj/warden/internal/burnrate"
	"github.com/wardenproj/warden/internal/gate"
	"github.com/wardenproj/warden/internal/ledger"
	"github.com/wardenproj/warden/internal/noise"
)

// Duration decodes Go duration strings ("250ms", "5m") from YAML, which
// has no native duration scalar.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"5m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// File is the top-level YAML document.
type File struct {
	Gate     Gate     `yaml:"gate"`
	BurnRate BurnRate `yaml:"burn_rate"`
	Noise    Noise    `yaml:"noise"`
	Ledger   Ledger   `yaml:"ledger"`
}

type Gate struct {
	DwellTime      Duration `yaml:"dwell_time"`
	FallbackStatus string   `yaml:"fallback_status"`
}

type BurnRate struct {
	SLOObjective         float64  `yaml:"slo_objective"`
	FastThreshold        float64  `yaml:"fast_threshold"`
	FastConfirmThreshold float64  `yaml:"fast_confirm_threshold"`
	SlowThreshold        float64  `yaml:"slow_threshold"`
	SlowConfirmThreshold float64  `yaml:"slow_confirm_threshold"`
	MinTraffic           int64    `yaml:"min_traffic"`
	ConfidenceThreshold  *float64 `yaml:"confidence_threshold"`
}

type Noise struct {
	DedupWindow  Duration `yaml:"dedup_window"`
	RateWindow   Duration `yaml:"rate_window"`
	MaxPerWindow int      `yaml:"max_per_window"`
}

type Ledger struct {
	// Backend selects the storage engine: "sqlite" or "jsonl".
	Backend       string   `yaml:"backend"`
	Path          string   `yaml:"path"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
}

// Load reads and validates a config file. Validation is strict: unknown
// keys, missing sections, and out-of-range values are all load errors, so
// a misconfigured deployment fails at startup rather than at decision
// time.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates raw YAML bytes.
func Parse(raw []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate delegates to each component's own validation so the rules live
// in one place.
func (f *File) Validate() error {
	if _, err := f.GateConfig(); err != nil {
		return err
	}
	if err := f.BurnRateConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := f.NoiseConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := f.validateLedger(); err != nil {
		return err
	}
	return nil
}

// GateConfig converts the gate section, checking the fallback status names
// a real status.
func (f *File) GateConfig() (gate.Config, error) {
	cfg := gate.Config{DwellTime: time.Duration(f.Gate.DwellTime)}
	if f.Gate.DwellTime <= 0 {
		return cfg, fmt.Errorf("config: gate.dwell_time must be configured and positive")
	}
	if f.Gate.FallbackStatus != "" {
		st := gate.Status(f.Gate.FallbackStatus)
		if !st.Valid() {
			return cfg, fmt.Errorf("config: gate.fallback_status %q is not a status", f.Gate.FallbackStatus)
		}
		cfg.FallbackStatus = st
	}
	return cfg, nil
}

func (f *File) BurnRateConfig() burnrate.Config {
	return burnrate.Config{
		SLOObjective:         f.BurnRate.SLOObjective,
		FastThreshold:        f.BurnRate.FastThreshold,
		FastConfirmThreshold: f.BurnRate.FastConfirmThreshold,
		SlowThreshold:        f.BurnRate.SlowThreshold,
		SlowConfirmThreshold: f.BurnRate.SlowConfirmThreshold,
		MinTraffic:           f.BurnRate.MinTraffic,
		ConfidenceThreshold:  f.BurnRate.ConfidenceThreshold,
	}
}

func (f *File) NoiseConfig() noise.Config {
	return noise.Config{
		DedupWindow:  time.Duration(f.Noise.DedupWindow),
		RateWindow:   time.Duration(f.Noise.RateWindow),
		MaxPerWindow: f.Noise.MaxPerWindow,
	}
}

func (f *File) validateLedger() error {
	switch f.Ledger.Backend {
	case "sqlite", "jsonl":
	case "":
		return fmt.Errorf("config: ledger.backend must be configured")
	default:
		return fmt.Errorf("config: ledger.backend %q is not supported (want sqlite or jsonl)", f.Ledger.Backend)
	}
	if f.Ledger.Path == "" {
		return fmt.Errorf("config: ledger.path must be configured")
	}
	if f.Ledger.RetryAttempts < 1 {
		return fmt.Errorf("config: ledger.retry_attempts must be at least 1")
	}
	if f.Ledger.RetryAttempts > 1 && f.Ledger.RetryBackoff <= 0 {
		return fmt.Errorf("config: ledger.retry_backoff must be positive when retries are enabled")
	}
	return nil
}

// LedgerConfig converts the ledger section.
func (f *File) LedgerConfig() ledger.Config {
	return ledger.Config{
		RetryAttempts: f.Ledger.RetryAttempts,
		RetryBackoff:  time.Duration(f.Ledger.RetryBackoff),
	}
}

// OpenLedgerBackend opens the configured storage backend.
func (f *File) OpenLedgerBackend() (ledger.Backend, error) {
	switch f.Ledger.Backend {
	case "sqlite":
		return ledger.OpenSQLite(f.Ledger.Path)
	case "jsonl":
		return ledger.OpenJSONL(f.Ledger.Path)
	default:
		return nil, fmt.Errorf("config: ledger.backend %q is not supported", f.Ledger.Backend)
	}
}
