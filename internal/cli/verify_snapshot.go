package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wardenproj/warden/internal/policy"
)

// VerifySnapshotOptions holds flags for the verify-snapshot command.
type VerifySnapshotOptions struct {
	*RootOptions
	KeysPath string
}

// NewVerifySnapshotCommand creates the verify-snapshot command.
func NewVerifySnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifySnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify-snapshot <snapshot.json>",
		Short: "Verify a signed policy snapshot",
		Long: `Verify a snapshot's content hash and signature against a trusted key set.

Exit code 0 means the snapshot is trusted evidence; 1 means it is not
(tampered rules, forged hash, unknown or revoked key, unsigned status).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifySnapshot(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeysPath, "keys", "", "public key set file (required)")
	cmd.MarkFlagRequired("keys")

	return cmd
}

func loadSnapshot(path string) (*policy.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap policy.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

func runVerifySnapshot(opts *VerifySnapshotOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	snap, err := loadSnapshot(path)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load snapshot", err)
	}

	store, err := LoadTrustStore(opts.KeysPath)
	if err != nil {
		formatter.Error("BAD_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load key set", err)
	}

	if err := policy.VerifySigned(snap, store); err != nil {
		formatter.Error("UNTRUSTED_SNAPSHOT", err.Error(), map[string]string{
			"snapshot_id": snap.SnapshotID,
		})
		return WrapExitError(ExitFailure, "snapshot verification failed", err)
	}

	formatter.VerboseLog("content hash and signature verified with key %s", snap.KeyID)
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"snapshot_id":  snap.SnapshotID,
			"lineage":      snap.Lineage,
			"version":      snap.Version,
			"content_hash": snap.ContentHash,
			"key_id":       snap.KeyID,
			"verified":     true,
		})
	}
	fmt.Fprintf(formatter.Writer, "ok: snapshot %s (lineage %s v%d) verified with key %s\n",
		snap.SnapshotID, snap.Lineage, snap.Version, snap.KeyID)
	return nil
}
