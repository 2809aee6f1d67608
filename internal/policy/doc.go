// Package policy manages rule-set snapshots through their lifecycle:
// draft, review, approved, signed, distributed, and the terminal revoked
// state. A snapshot becomes immutable evidence the moment it is signed;
// any further rule change is a new snapshot with a new identity.
//
// Authoring nodes sign snapshots with a trust.Signer. Consuming nodes
// re-verify content hash and signature through the trust store before
// accepting a snapshot for evaluation. Exactly one snapshot per lineage is
// active at a time; activation is an atomic pointer swap so in-flight
// evaluations keep the snapshot they started with.
package policy
