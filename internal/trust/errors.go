package trust

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes trust failures.
type ErrorCode string

const (
	// ErrCodeUnknownKey indicates the referenced key_id is not registered.
	ErrCodeUnknownKey ErrorCode = "UNKNOWN_KEY"

	// ErrCodeKeyRevoked indicates the key was revoked at or before the
	// claimed signing time.
	ErrCodeKeyRevoked ErrorCode = "KEY_REVOKED"

	// ErrCodeDuplicateKey indicates a register call reused an existing key_id.
	ErrCodeDuplicateKey ErrorCode = "DUPLICATE_KEY"

	// ErrCodeBadKeyMaterial indicates the key material is malformed for the
	// declared algorithm.
	ErrCodeBadKeyMaterial ErrorCode = "BAD_KEY_MATERIAL"
)

// Error is a structured trust failure. Trust failures always fail closed:
// callers treat them as "not verified", never as a retryable condition.
type Error struct {
	Code    ErrorCode
	KeyID   string
	Message string
}

func (e *Error) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.KeyID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownKey reports whether err is an unknown-key failure.
func IsUnknownKey(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == ErrCodeUnknownKey
}

// IsKeyRevoked reports whether err is a revoked-key failure.
func IsKeyRevoked(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == ErrCodeKeyRevoked
}
