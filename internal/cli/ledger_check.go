package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenproj/warden/internal/config"
	"github.com/wardenproj/warden/internal/ledger"
)

// LedgerCheckOptions holds flags for the ledger-check command.
type LedgerCheckOptions struct {
	*RootOptions
	DBPath     string
	DirPath    string
	ConfigPath string
	KeysPath   string
}

// NewLedgerCheckCommand creates the ledger-check command.
func NewLedgerCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerCheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger-check <partition>",
		Short: "Verify a ledger partition end-to-end",
		Long: `Walk one ledger partition from its first record, re-verifying every
signature, payload hash, and chain link.

The ledger location comes from --config (backend, path, and retry
settings) or directly from --db/--dir.

Exit code 0 means the chain is intact. Exit code 1 means a record failed
verification; the first bad sequence number is printed and the record is
quarantined.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "sqlite ledger database path")
	cmd.Flags().StringVar(&opts.DirPath, "dir", "", "jsonl ledger directory")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "warden config file naming the ledger backend")
	cmd.Flags().StringVar(&opts.KeysPath, "keys", "", "public key set file (required)")
	cmd.MarkFlagRequired("keys")

	return cmd
}

// checkLedger resolves the backend and retry settings from the flags.
func checkLedger(opts *LedgerCheckOptions) (ledger.Backend, ledger.Config, error) {
	located := 0
	for _, p := range []string{opts.DBPath, opts.DirPath, opts.ConfigPath} {
		if p != "" {
			located++
		}
	}
	if located > 1 {
		return nil, ledger.Config{}, fmt.Errorf("--db, --dir, and --config are mutually exclusive")
	}

	switch {
	case opts.ConfigPath != "":
		cfgFile, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, ledger.Config{}, err
		}
		backend, err := cfgFile.OpenLedgerBackend()
		if err != nil {
			return nil, ledger.Config{}, err
		}
		return backend, cfgFile.LedgerConfig(), nil
	case opts.DBPath != "":
		backend, err := ledger.OpenSQLite(opts.DBPath)
		return backend, ledger.Config{RetryAttempts: 1}, err
	case opts.DirPath != "":
		backend, err := ledger.OpenJSONL(opts.DirPath)
		return backend, ledger.Config{RetryAttempts: 1}, err
	default:
		return nil, ledger.Config{}, fmt.Errorf("one of --db, --dir, or --config is required")
	}
}

func runLedgerCheck(opts *LedgerCheckOptions, partition string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	backend, ledCfg, err := checkLedger(opts)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot open ledger", err)
	}
	defer backend.Close()

	store, err := LoadTrustStore(opts.KeysPath)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load key set", err)
	}

	led, err := ledger.New(backend, store, nil, ledCfg, nil)
	if err != nil {
		formatter.Error("LEDGER_UNAVAILABLE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot open ledger", err)
	}

	lastGood, err := led.VerifyChain(cmd.Context(), partition)
	if err != nil {
		var violation *ledger.ChainIntegrityViolation
		if errors.As(err, &violation) {
			formatter.Error("CHAIN_INTEGRITY_VIOLATION", violation.Error(), map[string]any{
				"partition":     partition,
				"bad_seq":       violation.BadSeq,
				"last_good_seq": violation.LastGoodSeq,
			})
			if formatter.Format != "json" {
				fmt.Fprintf(formatter.Writer, "first bad sequence: %d\n", violation.BadSeq)
			}
			return WrapExitError(ExitFailure, "chain verification failed", err)
		}
		formatter.Error("LEDGER_UNAVAILABLE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "ledger read failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"partition":    partition,
			"records":      lastGood,
			"chain_intact": true,
		})
	}
	fmt.Fprintf(formatter.Writer, "ok: partition %s intact, %d record(s) verified\n", partition, lastGood)
	return nil
}
