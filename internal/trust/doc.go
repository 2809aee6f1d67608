// Package trust holds the public-key registry and signature verification
// used by every other warden component. It is a leaf: nothing here depends
// on policy, gate or ledger code.
//
// Verification is evaluated at the claimed signing time, not at call time.
// Revoking a key stops it from signing anything new while signatures made
// during its validity window keep verifying, which is what makes key
// rotation safe for long-lived evidence.
package trust
