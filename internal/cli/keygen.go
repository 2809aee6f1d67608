package cli

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenproj/warden/internal/trust"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	KeyID     string
	OutDir    string
	ValidFrom string // RFC3339; empty means now
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 authoring keypair",
		Long: `Generate an Ed25519 keypair for an authoring node.

Writes <key-id>.private.json (keep on the authoring node) and
<key-id>.keys.json (the public key set to distribute to consumers).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyID, "key-id", "", "identifier for the new key (required)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", ".", "output directory")
	cmd.Flags().StringVar(&opts.ValidFrom, "valid-from", "", "RFC3339 instant the key becomes valid (default: now)")
	cmd.MarkFlagRequired("key-id")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	validFrom := time.Now().UTC()
	if opts.ValidFrom != "" {
		t, err := time.Parse(time.RFC3339, opts.ValidFrom)
		if err != nil {
			formatter.Error("BAD_INPUT", fmt.Sprintf("invalid --valid-from: %v", err), nil)
			return NewExitError(ExitCommandError, "invalid --valid-from")
		}
		validFrom = t.UTC()
	}

	signer, record, err := trust.GenerateSigner(opts.KeyID, validFrom)
	if err != nil {
		formatter.Error("KEYGEN_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "keygen failed", err)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		formatter.Error("WRITE_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "create output directory", err)
	}

	privPath := filepath.Join(opts.OutDir, opts.KeyID+".private.json")
	pubPath := filepath.Join(opts.OutDir, opts.KeyID+".keys.json")

	priv := PrivateKeyFile{
		KeyID:      opts.KeyID,
		Algorithm:  trust.AlgorithmEd25519,
		PrivateKey: base64.StdEncoding.EncodeToString(signer.PrivateKey()),
		ValidFrom:  validFrom,
	}
	// Private half is owner-readable only.
	if err := writeJSONFile(privPath, priv, 0o600); err != nil {
		formatter.Error("WRITE_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "write private key", err)
	}

	if err := writeJSONFile(pubPath, KeySetFile{Keys: []trust.PublicKeyRecord{record}}, 0o644); err != nil {
		formatter.Error("WRITE_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "write key set", err)
	}

	formatter.VerboseLog("generated %s keypair %s", trust.AlgorithmEd25519, opts.KeyID)
	if formatter.Format == "json" {
		return formatter.Success(map[string]string{
			"key_id":      opts.KeyID,
			"private_key": privPath,
			"public_keys": pubPath,
		})
	}
	fmt.Fprintf(formatter.Writer, "wrote %s\nwrote %s\n", privPath, pubPath)
	return nil
}
