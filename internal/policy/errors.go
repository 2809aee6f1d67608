package policy

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes policy failures.
type ErrorCode string

const (
	// ErrCodeInvalidTransition indicates lifecycle misuse: the requested
	// status change is not an edge of the snapshot state machine. This is a
	// programmer error and is surfaced immediately, never retried.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodeUntrustedSnapshot indicates signature or content-hash
	// verification failed for a remotely produced snapshot. Fatal to the
	// snapshot; never silently downgraded.
	ErrCodeUntrustedSnapshot ErrorCode = "UNTRUSTED_SNAPSHOT"

	// ErrCodePolicyUnavailable indicates no valid active snapshot exists.
	// Callers must apply their configured conservative fallback.
	ErrCodePolicyUnavailable ErrorCode = "POLICY_UNAVAILABLE"

	// ErrCodeInvalidRubric indicates the rule table itself is malformed.
	ErrCodeInvalidRubric ErrorCode = "INVALID_RUBRIC"
)

// Error is a structured policy failure.
type Error struct {
	Code       ErrorCode
	SnapshotID string
	Message    string
}

func (e *Error) Error() string {
	if e.SnapshotID != "" {
		return fmt.Sprintf("%s: %s (snapshot=%s)", e.Code, e.Message, e.SnapshotID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidTransition reports whether err is a lifecycle misuse error.
func IsInvalidTransition(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == ErrCodeInvalidTransition
}

// IsUntrusted reports whether err is a snapshot trust failure.
func IsUntrusted(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == ErrCodeUntrustedSnapshot
}

// IsUnavailable reports whether err means no usable snapshot exists.
func IsUnavailable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == ErrCodePolicyUnavailable
}
