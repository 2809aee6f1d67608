package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/compiler"
	"github.com/wardenproj/warden/internal/config"
	"github.com/wardenproj/warden/internal/evidence"
	"github.com/wardenproj/warden/internal/gate"
	"github.com/wardenproj/warden/internal/ledger"
	"github.com/wardenproj/warden/internal/policy"
	"github.com/wardenproj/warden/internal/trust"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	SnapshotPath   string
	KeysPath       string
	RubricPath     string
	ConfigPath     string
	SigningKeyPath string
	Dwell          time.Duration
	At             string // RFC3339; empty means now
	HighStakes     bool
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate <entity> <inputs.json>",
		Short: "Evaluate gate inputs against a policy snapshot",
		Long: `Evaluate a JSON object of named signals against a rubric and print the
decision. The exit code mirrors the decision severity:

  0  pass
  1  warn
  2  soft_block (and unknown)
  3  hard_block

Policy comes from either a verified signed snapshot (--snapshot with
--keys) or a CUE rubric compiled and signed with an ephemeral key for a
local dry run (--rubric). Gate settings come from --config or --dwell.

When the policy source cannot be trusted or is unavailable, the
configured fallback status (hard_block unless overridden) is reported
instead of an error, and the exit code follows it.

With --config and --signing-key, the decision is appended to the
configured evidence ledger as a signed receipt.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SnapshotPath, "snapshot", "", "signed snapshot file (requires --keys)")
	cmd.Flags().StringVar(&opts.KeysPath, "keys", "", "public key set file for snapshot verification")
	cmd.Flags().StringVar(&opts.RubricPath, "rubric", "", "CUE rubric file for a local dry run")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "warden config file (gate and ledger settings)")
	cmd.Flags().StringVar(&opts.SigningKeyPath, "signing-key", "", "private key file; record the decision to the configured ledger (requires --config)")
	cmd.Flags().DurationVar(&opts.Dwell, "dwell", 0, "de-escalation dwell time (alternative to --config)")
	cmd.Flags().StringVar(&opts.At, "at", "", "RFC3339 evaluation instant (default: now)")
	cmd.Flags().BoolVar(&opts.HighStakes, "high-stakes", false, "record the evaluation as high stakes")

	return cmd
}

func runEvaluate(opts *EvaluateOptions, entity, inputsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	gateCfg, cfgFile, err := evaluateGateConfig(opts, formatter)
	if err != nil {
		return err
	}

	at := time.Now().UTC()
	if opts.At != "" {
		t, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			formatter.Error("BAD_INPUT", fmt.Sprintf("invalid --at: %v", err), nil)
			return NewExitError(ExitCommandError, "invalid --at")
		}
		at = t.UTC()
	}

	recorder, closeRecorder, err := decisionRecorder(opts, cfgFile, formatter)
	if err != nil {
		return err
	}
	defer closeRecorder()

	snap, err := evaluationSnapshot(opts, at, formatter)
	if err != nil {
		if policy.IsUntrusted(err) || policy.IsUnavailable(err) {
			return emitFallback(opts, formatter, recorder, gateCfg, entity, at, cmd, err)
		}
		return err
	}

	raw, err := os.ReadFile(inputsPath)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot read inputs", err)
	}
	signals, err := canon.DecodeObject(raw)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "inputs must be a JSON object of signals", err)
	}

	engine, err := gate.NewEngine(gateCfg, nil)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid gate configuration", err)
	}

	decision, err := engine.Evaluate(entity, gate.Input{
		Signals:    signals,
		HighStakes: opts.HighStakes,
	}, snap, at)
	if err != nil {
		if policy.IsUnavailable(err) {
			return emitFallback(opts, formatter, recorder, gateCfg, entity, at, cmd, err)
		}
		formatter.Error("EVALUATION_FAILED", err.Error(), nil)
		return WrapExitError(ExitFailure, "evaluation failed", err)
	}

	if err := recordDecision(recorder, formatter, cmd, decision); err != nil {
		return err
	}
	if err := printDecision(formatter, decision); err != nil {
		return err
	}
	if code := decision.Status.ExitCode(); code != ExitSuccess {
		return NewExitError(code, fmt.Sprintf("decision: %s", decision.Status))
	}
	return nil
}

// evaluateGateConfig resolves gate settings from --config or --dwell.
func evaluateGateConfig(opts *EvaluateOptions, formatter *OutputFormatter) (gate.Config, *config.File, error) {
	switch {
	case opts.ConfigPath != "" && opts.Dwell != 0:
		formatter.Error("BAD_INPUT", "--config and --dwell are mutually exclusive", nil)
		return gate.Config{}, nil, NewExitError(ExitCommandError, "conflicting gate settings")

	case opts.ConfigPath != "":
		cfgFile, err := config.Load(opts.ConfigPath)
		if err != nil {
			formatter.Error("BAD_INPUT", err.Error(), nil)
			return gate.Config{}, nil, WrapExitError(ExitCommandError, "cannot load config", err)
		}
		gateCfg, err := cfgFile.GateConfig()
		if err != nil {
			formatter.Error("BAD_INPUT", err.Error(), nil)
			return gate.Config{}, nil, WrapExitError(ExitCommandError, "invalid gate configuration", err)
		}
		return gateCfg, cfgFile, nil

	case opts.Dwell != 0:
		return gate.Config{DwellTime: opts.Dwell}, nil, nil

	default:
		formatter.Error("BAD_INPUT", "one of --config or --dwell is required", nil)
		return gate.Config{}, nil, NewExitError(ExitCommandError, "no gate settings")
	}
}

// decisionRecorder opens the configured ledger for decision recording when
// --signing-key is set. The returned close func is a no-op when recording
// is off.
func decisionRecorder(opts *EvaluateOptions, cfgFile *config.File, formatter *OutputFormatter) (*evidence.Recorder, func(), error) {
	if opts.SigningKeyPath == "" {
		return nil, func() {}, nil
	}
	if cfgFile == nil {
		formatter.Error("BAD_INPUT", "--signing-key requires --config", nil)
		return nil, nil, NewExitError(ExitCommandError, "--signing-key requires --config")
	}

	signer, err := LoadSigner(opts.SigningKeyPath)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "cannot load signing key", err)
	}

	store := trust.NewStore(nil)
	if opts.KeysPath != "" {
		store, err = LoadTrustStore(opts.KeysPath)
		if err != nil {
			formatter.Error("BAD_INPUT", err.Error(), nil)
			return nil, nil, WrapExitError(ExitCommandError, "cannot load key set", err)
		}
	}

	backend, err := cfgFile.OpenLedgerBackend()
	if err != nil {
		formatter.Error("LEDGER_UNAVAILABLE", err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "cannot open ledger", err)
	}
	led, err := ledger.New(backend, store, signer, cfgFile.LedgerConfig(), nil)
	if err != nil {
		backend.Close()
		formatter.Error("LEDGER_UNAVAILABLE", err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "cannot open ledger", err)
	}
	return evidence.NewRecorder(led, nil), func() { backend.Close() }, nil
}

// recordDecision appends the decision to the evidence ledger when recording
// is configured. A decision that could not be recorded is a failure, never
// a silent success.
func recordDecision(recorder *evidence.Recorder, formatter *OutputFormatter, cmd *cobra.Command, d gate.Decision) error {
	if recorder == nil {
		return nil
	}
	receipt, err := recorder.RecordDecision(cmd.Context(), d)
	if err != nil {
		formatter.Error("LEDGER_UNAVAILABLE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot record decision", err)
	}
	formatter.VerboseLog("decision recorded as receipt %s (seq %d)", receipt.ReceiptID, receipt.SequenceNo)
	return nil
}

// emitFallback reports the configured conservative status when the policy
// source is untrusted or unavailable. The exit code follows the fallback
// status, so a default hard_block exits 3 rather than masquerading as a
// command error.
func emitFallback(opts *EvaluateOptions, formatter *OutputFormatter, recorder *evidence.Recorder, gateCfg gate.Config, entity string, at time.Time, cmd *cobra.Command, cause error) error {
	status := gateCfg.Fallback()
	d := gate.Decision{
		DecisionID:  uuid.NewString(),
		EntityID:    entity,
		Status:      status,
		ReasonCodes: []string{"policy_unavailable"},
		EvaluatedAt: at,
		HighStakes:  opts.HighStakes,
	}
	formatter.VerboseLog("policy unavailable (%v): falling back to %s", cause, status)

	if err := recordDecision(recorder, formatter, cmd, d); err != nil {
		return err
	}
	if err := printDecision(formatter, d); err != nil {
		return err
	}
	if code := status.ExitCode(); code != ExitSuccess {
		return WrapExitError(code, fmt.Sprintf("policy unavailable, fallback %s", status), cause)
	}
	return nil
}

// evaluationSnapshot resolves the policy source: a verified signed
// snapshot, or a rubric compiled and self-signed for a dry run. Trust
// failures come back unwrapped so the caller can apply the fallback.
func evaluationSnapshot(opts *EvaluateOptions, at time.Time, formatter *OutputFormatter) (*policy.Snapshot, error) {
	switch {
	case opts.SnapshotPath != "" && opts.RubricPath != "":
		formatter.Error("BAD_INPUT", "--snapshot and --rubric are mutually exclusive", nil)
		return nil, NewExitError(ExitCommandError, "conflicting policy sources")

	case opts.SnapshotPath != "":
		if opts.KeysPath == "" {
			formatter.Error("BAD_INPUT", "--snapshot requires --keys", nil)
			return nil, NewExitError(ExitCommandError, "--snapshot requires --keys")
		}
		snap, err := loadSnapshot(opts.SnapshotPath)
		if err != nil {
			formatter.Error("BAD_INPUT", err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "cannot load snapshot", err)
		}
		store, err := LoadTrustStore(opts.KeysPath)
		if err != nil {
			formatter.Error("BAD_INPUT", err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "cannot load key set", err)
		}
		if err := policy.VerifySigned(snap, store); err != nil {
			return nil, err
		}
		return snap, nil

	case opts.RubricPath != "":
		rules, err := compiler.CompileRubricFile(opts.RubricPath)
		if err != nil {
			formatter.Error("INVALID_RUBRIC", err.Error(), nil)
			return nil, WrapExitError(ExitFailure, "rubric compilation failed", err)
		}
		snap, err := dryRunSnapshot(rules, at)
		if err != nil {
			formatter.Error("INVALID_RUBRIC", err.Error(), nil)
			return nil, WrapExitError(ExitFailure, "cannot build dry-run snapshot", err)
		}
		formatter.VerboseLog("dry run: rubric self-signed as snapshot %s", snap.SnapshotID)
		return snap, nil

	default:
		formatter.Error("BAD_INPUT", "one of --snapshot or --rubric is required", nil)
		return nil, NewExitError(ExitCommandError, "no policy source")
	}
}

// dryRunSnapshot walks a compiled rubric through the full lifecycle with an
// ephemeral key, so the evaluation path is identical to production.
func dryRunSnapshot(rules []policy.Rule, at time.Time) (*policy.Snapshot, error) {
	signer, _, err := trust.GenerateSigner("dry-run-"+uuid.NewString(), at)
	if err != nil {
		return nil, err
	}
	snap, err := policy.NewDraft("adhoc-"+uuid.NewString(), "adhoc", 1, at, rules)
	if err != nil {
		return nil, err
	}
	if err := snap.Transition(policy.StatusReview); err != nil {
		return nil, err
	}
	if err := snap.Transition(policy.StatusApproved); err != nil {
		return nil, err
	}
	if err := policy.Sign(snap, signer, at); err != nil {
		return nil, err
	}
	return snap, nil
}

func printDecision(formatter *OutputFormatter, d gate.Decision) error {
	if formatter.Format == "json" {
		return formatter.Success(d)
	}
	fmt.Fprintf(formatter.Writer, "decision %s\n", d.DecisionID)
	fmt.Fprintf(formatter.Writer, "  entity:    %s\n", d.EntityID)
	fmt.Fprintf(formatter.Writer, "  snapshot:  %s\n", d.SnapshotID)
	fmt.Fprintf(formatter.Writer, "  status:    %s\n", d.Status)
	for _, code := range d.ReasonCodes {
		fmt.Fprintf(formatter.Writer, "  reason:    %s\n", code)
	}
	return nil
}
