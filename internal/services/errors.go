// Package services defines the business logic for connections, keys,
// conversations, and the welcome bootstrap. This file centralizes the
// service-level error taxonomy so that callers can branch on stable values
// and handlers can map them to HTTP results consistently.
//
// Taxonomy:
//   - ErrNotAuthenticated: no active session / missing caller identity.
//   - ValidationError: field-scoped rule violation (self-request, duplicate
//     request, wrong responder, non-pending target, malformed identifier).
//   - StoreError: a store-level failure with the underlying cause attached
//     for diagnostics.
//   - ErrCryptoMismatch: decryption or key verification failed; surfaced to
//     users as "incorrect password", never as a raw crypto fault.
//   - ErrMigrationRequired: legacy account predating key derivation; cannot
//     unlock without re-authentication.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when an operation requires a caller
	// identity and none is present.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrCryptoMismatch indicates decryption or public-key verification
	// failed. Handlers translate it to a generic "incorrect password"
	// message to avoid leaking cryptographic internals.
	ErrCryptoMismatch = errors.New("crypto verification failed")

	// ErrMigrationRequired indicates an account that predates key
	// derivation; it has no key row and must re-authenticate to create one.
	ErrMigrationRequired = errors.New("account migration required")

	// ErrConnectionNotFound indicates the connection row does not exist.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConversationNotFound indicates the conversation does not exist or
	// the caller is not a participant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the message does not exist or is not
	// accessible to the caller.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotParticipant is returned when the caller is not a member of the
	// conversation or connection they are operating on.
	ErrNotParticipant = errors.New("caller is not a participant")

	// ErrNotConnected is returned when two accounts without an accepted
	// connection attempt to converse. The admin account is exempt so the
	// welcome bootstrap can reach brand-new users.
	ErrNotConnected = errors.New("accounts are not connected")
)

// ValidationError is a field-scoped rule violation. Field names the
// offending input so the UI can attach the message to the right control.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError constructs a field-scoped validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AsValidation unwraps err into a *ValidationError when possible.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// StoreError wraps a store-level failure, keeping the operation name and
// the underlying cause for diagnostics.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure in %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *StoreError) Unwrap() error { return e.Err }

// storeErr wraps err as a StoreError unless it is nil.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
