// Package canon provides the canonical serialization and content-addressing
// primitives shared by every warden component.
//
// All signed or hashed material — policy snapshots, gate decisions, ledger
// receipts, noise fingerprints — flows through MarshalCanonical, an RFC 8785
// (JCS) canonical JSON encoder over a sealed value family. Canonical bytes
// are stable across processes and releases, which is what makes signatures
// and hash chains verifiable long after the fact.
//
// Raw floats are forbidden in canonical values because their formatting is
// not portable. Numeric measurements are carried as Decimal, a pre-formatted
// shortest-round-trip number literal, so the same float always produces the
// same bytes.
package canon
