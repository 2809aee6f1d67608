package policy

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Activator tracks the single active snapshot per lineage. Activation is an
// atomic pointer swap: evaluations that already loaded a snapshot keep
// using it, and a new activation never interrupts them mid-flight.
type Activator struct {
	mu       sync.Mutex // guards the lineages map, not the pointers
	lineages map[string]*atomic.Pointer[Snapshot]
}

// NewActivator creates an empty activator.
func NewActivator() *Activator {
	return &Activator{lineages: make(map[string]*atomic.Pointer[Snapshot])}
}

// Activate makes snap the active snapshot for its lineage. The snapshot
// must be usable (signed or distributed, not revoked). Activating a new
// snapshot does not retroactively invalidate decisions recorded against
// the previous one.
func (a *Activator) Activate(snap *Snapshot) error {
	if !snap.Usable() {
		return &Error{
			Code:       ErrCodePolicyUnavailable,
			SnapshotID: snap.SnapshotID,
			Message:    fmt.Sprintf("cannot activate snapshot in status %s", snap.Status),
		}
	}
	a.pointer(snap.Lineage).Store(snap)
	return nil
}

// Active returns the current snapshot for lineage. Returns a
// PolicyUnavailable error when nothing is active or the active snapshot has
// since been revoked — callers fall back to their configured conservative
// status, they do not retry.
func (a *Activator) Active(lineage string) (*Snapshot, error) {
	snap := a.pointer(lineage).Load()
	if snap == nil {
		return nil, &Error{Code: ErrCodePolicyUnavailable,
			Message: fmt.Sprintf("no active snapshot for lineage %q", lineage)}
	}
	if !snap.Usable() {
		return nil, &Error{Code: ErrCodePolicyUnavailable, SnapshotID: snap.SnapshotID,
			Message: fmt.Sprintf("active snapshot for lineage %q is %s", lineage, snap.Status)}
	}
	return snap, nil
}

func (a *Activator) pointer(lineage string) *atomic.Pointer[Snapshot] {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.lineages[lineage]
	if !ok {
		p = &atomic.Pointer[Snapshot]{}
		a.lineages[lineage] = p
	}
	return p
}
