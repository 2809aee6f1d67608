package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/compiler"
	"github.com/wardenproj/warden/internal/ledger"
	"github.com/wardenproj/warden/internal/policy"
	"github.com/wardenproj/warden/internal/trust"
)

// execute runs the CLI with args and returns combined output plus the exit
// code the process would use.
func execute(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return buf.String(), ExitSuccess
	}
	return buf.String(), GetExitCode(err)
}

const testRubric = `
rubric: {
	rules: [
		{name: "error_rate_warn", signal: "error_rate", operator: ">", threshold: 0.01, severity: "warn"},
		{name: "error_rate_block", signal: "error_rate", operator: ">", threshold: 0.05, severity: "soft_block"},
		{name: "incident_block", signal: "open_incidents", operator: ">=", threshold: 3, severity: "hard_block"},
	]
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestKeygenWritesKeypair(t *testing.T) {
	dir := t.TempDir()
	out, code := execute(t, "keygen", "--key-id", "release-1", "--out", dir)
	require.Equal(t, ExitSuccess, code, out)

	privPath := filepath.Join(dir, "release-1.private.json")
	pubPath := filepath.Join(dir, "release-1.keys.json")
	assert.FileExists(t, privPath)
	assert.FileExists(t, pubPath)

	// The written pair must round-trip into a working signer/verifier.
	signer, err := LoadSigner(privPath)
	require.NoError(t, err)
	store, err := LoadTrustStore(pubPath)
	require.NoError(t, err)

	payload := []byte("payload")
	sig := signer.Sign(payload)
	assert.True(t, store.Verify(payload, sig, "release-1", time.Now().UTC()))
}

func TestCompileRubricPrintsTable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gate.cue", testRubric)

	out, code := execute(t, "compile-rubric", path)
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "error_rate_warn")
	assert.Contains(t, out, "soft_block")
}

func TestCompileRubricRejectsBadSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.cue", `rubric: {rules: []}`)

	out, code := execute(t, "compile-rubric", path)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "INVALID_RUBRIC")
}

// signedSnapshotFiles builds a signed snapshot and its key set on disk.
func signedSnapshotFiles(t *testing.T, dir string) (snapPath, keysPath string) {
	t.Helper()

	signer, record, err := trust.GenerateSigner("author-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	rules, err := compiler.CompileRubricSource(testRubric, "gate.cue")
	require.NoError(t, err)

	snap, err := policy.NewDraft("snap-1", "release-gate", 1,
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), rules)
	require.NoError(t, err)
	require.NoError(t, snap.Transition(policy.StatusReview))
	require.NoError(t, snap.Transition(policy.StatusApproved))
	require.NoError(t, policy.Sign(snap, signer, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)))

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	snapPath = writeFile(t, dir, "snap.json", string(raw))

	keys, err := json.Marshal(KeySetFile{Keys: []trust.PublicKeyRecord{record}})
	require.NoError(t, err)
	keysPath = writeFile(t, dir, "keys.json", string(keys))
	return snapPath, keysPath
}

func TestVerifySnapshotAcceptsSigned(t *testing.T) {
	dir := t.TempDir()
	snapPath, keysPath := signedSnapshotFiles(t, dir)

	out, code := execute(t, "verify-snapshot", snapPath, "--keys", keysPath)
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "snap-1")
}

func TestVerifySnapshotRejectsTampered(t *testing.T) {
	dir := t.TempDir()
	snapPath, keysPath := signedSnapshotFiles(t, dir)

	raw, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"0.05"`, `"0.5"`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(snapPath, []byte(tampered), 0o644))

	out, code := execute(t, "verify-snapshot", snapPath, "--keys", keysPath)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "UNTRUSTED_SNAPSHOT")
}

func TestVerifySnapshotRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	snapPath, _ := signedSnapshotFiles(t, dir)

	// Key set from a different authoring node.
	_, otherRecord, err := trust.GenerateSigner("author-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	keys, err := json.Marshal(KeySetFile{Keys: []trust.PublicKeyRecord{otherRecord}})
	require.NoError(t, err)
	keysPath := writeFile(t, dir, "other-keys.json", string(keys))

	_, code := execute(t, "verify-snapshot", snapPath, "--keys", keysPath)
	assert.Equal(t, ExitFailure, code)
}

func TestEvaluateExitMirrorsSeverity(t *testing.T) {
	dir := t.TempDir()
	rubricPath := writeFile(t, dir, "gate.cue", testRubric)

	tests := []struct {
		name     string
		inputs   string
		wantCode int
		wantWord string
	}{
		{"pass", `{"error_rate":0.001,"open_incidents":0}`, 0, "pass"},
		{"warn", `{"error_rate":0.02,"open_incidents":0}`, 1, "warn"},
		{"soft block", `{"error_rate":0.07,"open_incidents":0}`, 2, "soft_block"},
		{"hard block", `{"error_rate":0.07,"open_incidents":4}`, 3, "hard_block"},
		{"missing signal", `{"error_rate":0.001}`, 2, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputsPath := writeFile(t, dir, "inputs.json", tt.inputs)
			out, code := execute(t, "evaluate", "svc-1", inputsPath,
				"--rubric", rubricPath, "--dwell", "5m")
			assert.Equal(t, tt.wantCode, code, out)
			assert.Contains(t, out, tt.wantWord)
		})
	}
}

func TestEvaluateWithVerifiedSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapPath, keysPath := signedSnapshotFiles(t, dir)
	inputsPath := writeFile(t, dir, "inputs.json", `{"error_rate":0.02,"open_incidents":0}`)

	out, code := execute(t, "evaluate", "svc-1", inputsPath,
		"--snapshot", snapPath, "--keys", keysPath, "--dwell", "5m",
		"--at", "2026-03-01T00:00:00Z")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "snap-1")
	assert.Contains(t, out, "error_rate_warn")
}

func TestEvaluateRequiresPolicySource(t *testing.T) {
	dir := t.TempDir()
	inputsPath := writeFile(t, dir, "inputs.json", `{}`)

	out, code := execute(t, "evaluate", "svc-1", inputsPath, "--dwell", "5m")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "BAD_INPUT")
}

// ledgerFixture appends records to a jsonl ledger and writes its key set.
func ledgerFixture(t *testing.T, dir string, n int) (ledgerDir, keysPath string) {
	t.Helper()
	ledgerDir = filepath.Join(dir, "ledger")

	signer, record, err := trust.GenerateSigner("ledger-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	store := trust.NewStore(nil)
	require.NoError(t, store.RegisterKey(record))

	backend, err := ledger.OpenJSONL(ledgerDir)
	require.NoError(t, err)
	led, err := ledger.New(backend, store, signer, ledger.Config{RetryAttempts: 1}, nil)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := led.Append(context.Background(), "decisions", canon.Object{
			"action": canon.String("deploy"),
			"index":  canon.Int(int64(i)),
		})
		require.NoError(t, err)
	}

	keys, err := json.Marshal(KeySetFile{Keys: []trust.PublicKeyRecord{record}})
	require.NoError(t, err)
	keysPath = writeFile(t, dir, "keys.json", string(keys))
	return ledgerDir, keysPath
}

func TestLedgerCheckIntactChain(t *testing.T) {
	dir := t.TempDir()
	ledgerDir, keysPath := ledgerFixture(t, dir, 3)

	out, code := execute(t, "ledger-check", "decisions", "--dir", ledgerDir, "--keys", keysPath)
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "3 record(s)")
}

func TestLedgerCheckReportsFirstBadSequence(t *testing.T) {
	dir := t.TempDir()
	ledgerDir, keysPath := ledgerFixture(t, dir, 3)

	// Flip one payload byte of record 2 on disk.
	path := filepath.Join(ledgerDir, "decisions.jsonl")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"index":1`, `"index":9`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	out, code := execute(t, "ledger-check", "decisions", "--dir", ledgerDir, "--keys", keysPath)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "first bad sequence: 2")
}

func TestLedgerCheckReportsUndecodableRecord(t *testing.T) {
	dir := t.TempDir()
	ledgerDir, keysPath := ledgerFixture(t, dir, 3)

	// Break JSON well-formedness of record 2, not just a value inside it.
	path := filepath.Join(ledgerDir, "decisions.jsonl")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	mangled := strings.Replace(string(raw), `"index":1`, `xindex":1`, 1)
	require.NotEqual(t, string(raw), mangled)
	require.NoError(t, os.WriteFile(path, []byte(mangled), 0o644))

	out, code := execute(t, "ledger-check", "decisions", "--dir", ledgerDir, "--keys", keysPath)
	assert.Equal(t, ExitFailure, code, out)
	assert.Contains(t, out, "first bad sequence: 2")
	assert.NotContains(t, out, "LEDGER_UNAVAILABLE")

	// The unreadable bytes are preserved in the quarantine sidecar.
	assert.FileExists(t, filepath.Join(ledgerDir, "decisions.quarantine"))
}

// configFixture writes a complete config file with the given gate fallback
// and jsonl ledger path.
func configFixture(t *testing.T, dir, fallback, ledgerPath string) string {
	t.Helper()
	doc := `gate:
  dwell_time: 5m
  fallback_status: ` + fallback + `
burn_rate:
  slo_objective: 0.99
  fast_threshold: 14.4
  fast_confirm_threshold: 6.0
  slow_threshold: 6.0
  slow_confirm_threshold: 3.0
  min_traffic: 100
noise:
  dedup_window: 10m
  rate_window: 1h
  max_per_window: 5
ledger:
  backend: jsonl
  path: ` + ledgerPath + `
  retry_attempts: 1
`
	return writeFile(t, dir, "warden.yaml", doc)
}

func TestLedgerCheckWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	ledgerDir, keysPath := ledgerFixture(t, dir, 3)
	cfgPath := configFixture(t, dir, "hard_block", ledgerDir)

	out, code := execute(t, "ledger-check", "decisions", "--config", cfgPath, "--keys", keysPath)
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "3 record(s)")
}

func TestEvaluateWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	rubricPath := writeFile(t, dir, "gate.cue", testRubric)
	inputsPath := writeFile(t, dir, "inputs.json", `{"error_rate":0.02,"open_incidents":0}`)
	cfgPath := configFixture(t, dir, "hard_block", filepath.Join(dir, "ledger"))

	out, code := execute(t, "evaluate", "svc-1", inputsPath,
		"--rubric", rubricPath, "--config", cfgPath)
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "warn")
}

func TestEvaluateRejectsConfigAndDwellTogether(t *testing.T) {
	dir := t.TempDir()
	inputsPath := writeFile(t, dir, "inputs.json", `{}`)
	cfgPath := configFixture(t, dir, "hard_block", filepath.Join(dir, "ledger"))

	out, code := execute(t, "evaluate", "svc-1", inputsPath,
		"--config", cfgPath, "--dwell", "5m")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "BAD_INPUT")
}

func TestEvaluateRecordsDecisionToLedger(t *testing.T) {
	dir := t.TempDir()
	out, code := execute(t, "keygen", "--key-id", "rec-1", "--out", dir)
	require.Equal(t, ExitSuccess, code, out)

	ledgerDir := filepath.Join(dir, "ledger")
	rubricPath := writeFile(t, dir, "gate.cue", testRubric)
	inputsPath := writeFile(t, dir, "inputs.json", `{"error_rate":0.02,"open_incidents":0}`)
	cfgPath := configFixture(t, dir, "hard_block", ledgerDir)

	out, code = execute(t, "evaluate", "svc-1", inputsPath,
		"--rubric", rubricPath, "--config", cfgPath,
		"--signing-key", filepath.Join(dir, "rec-1.private.json"))
	assert.Equal(t, 1, code, out)

	// The decision must be on disk as a verified receipt.
	store, err := LoadTrustStore(filepath.Join(dir, "rec-1.keys.json"))
	require.NoError(t, err)
	backend, err := ledger.OpenJSONL(ledgerDir)
	require.NoError(t, err)
	defer backend.Close()
	led, err := ledger.New(backend, store, nil, ledger.Config{RetryAttempts: 1}, nil)
	require.NoError(t, err)

	last, err := led.VerifyChain(context.Background(), "decisions")
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)

	recs, err := backend.ReadRange(context.Background(), "decisions", 1, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, canon.String("svc-1"), recs[0].Payload["entity_id"])
	assert.Equal(t, canon.String("warn"), recs[0].Payload["status"])
}

func TestEvaluateFallsBackOnUntrustedSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapPath, keysPath := signedSnapshotFiles(t, dir)
	inputsPath := writeFile(t, dir, "inputs.json", `{"error_rate":0.001,"open_incidents":0}`)

	raw, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"0.05"`, `"0.5"`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(snapPath, []byte(tampered), 0o644))

	// Without a configured fallback the conservative default is hard_block,
	// so the exit code is 3, not a generic failure.
	out, code := execute(t, "evaluate", "svc-1", inputsPath,
		"--snapshot", snapPath, "--keys", keysPath, "--dwell", "5m")
	assert.Equal(t, 3, code, out)
	assert.Contains(t, out, "hard_block")
	assert.Contains(t, out, "policy_unavailable")
}

func TestEvaluateFallbackUsesConfiguredStatus(t *testing.T) {
	dir := t.TempDir()
	snapPath, keysPath := signedSnapshotFiles(t, dir)
	inputsPath := writeFile(t, dir, "inputs.json", `{"error_rate":0.001,"open_incidents":0}`)
	cfgPath := configFixture(t, dir, "warn", filepath.Join(dir, "ledger"))

	raw, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"0.05"`, `"0.5"`, 1)
	require.NoError(t, os.WriteFile(snapPath, []byte(tampered), 0o644))

	out, code := execute(t, "evaluate", "svc-1", inputsPath,
		"--snapshot", snapPath, "--keys", keysPath, "--config", cfgPath)
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "warn")
	assert.Contains(t, out, "policy_unavailable")
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	_, code := execute(t, "--format", "xml", "keygen", "--key-id", "k")
	assert.NotEqual(t, ExitSuccess, code)
}
