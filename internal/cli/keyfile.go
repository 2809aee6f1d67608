package cli

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wardenproj/warden/internal/trust"
)

// KeySetFile is the on-disk public key registry handed to consumers. The
// same file works for snapshot verification and ledger checking.
type KeySetFile struct {
	Keys []trust.PublicKeyRecord `json:"keys"`
}

// PrivateKeyFile is the authoring-side keypair produced by keygen. It never
// leaves the authoring node.
type PrivateKeyFile struct {
	KeyID      string    `json:"key_id"`
	Algorithm  string    `json:"algorithm"`
	PrivateKey string    `json:"private_key"` // base64
	ValidFrom  time.Time `json:"valid_from"`
}

// LoadTrustStore reads a key set file into a fresh trust store.
func LoadTrustStore(path string) (*trust.Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var ks KeySetFile
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	if len(ks.Keys) == 0 {
		return nil, fmt.Errorf("keys file %s contains no keys", path)
	}

	store := trust.NewStore(nil)
	for _, rec := range ks.Keys {
		if err := store.RegisterKey(rec); err != nil {
			return nil, fmt.Errorf("register key %s: %w", rec.KeyID, err)
		}
	}
	return store, nil
}

// LoadSigner reads a private key file back into a signer.
func LoadSigner(path string) (*trust.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	var pk PrivateKeyFile
	if err := json.Unmarshal(raw, &pk); err != nil {
		return nil, fmt.Errorf("parse private key file: %w", err)
	}
	if pk.Algorithm != trust.AlgorithmEd25519 {
		return nil, fmt.Errorf("unsupported algorithm %q", pk.Algorithm)
	}
	priv, err := base64.StdEncoding.DecodeString(pk.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return trust.NewSigner(pk.KeyID, ed25519.PrivateKey(priv))
}

// writeJSONFile marshals v with indentation and writes it with mode.
func writeJSONFile(path string, v any, mode os.FileMode) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), mode)
}
