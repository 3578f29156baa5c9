package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the paid balance.
	ErrInsufficientBalance = errors.New("insufficient paid balance")

	// ErrStaleState is returned when a compare-and-set transition found the
	// row in a different state than expected. Callers re-fetch and retry.
	ErrStaleState = errors.New("stale state: concurrent transition detected")

	// ErrInvalidTransition is returned for transitions the lifecycle does not
	// allow at all, regardless of concurrency.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoEligibleRequests is returned when a batch trigger fires and no
	// approved, unheld request exists. No empty run is created.
	ErrNoEligibleRequests = errors.New("no eligible payout requests")
)

// ValidationError rejects bad input synchronously; nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderDispatchError maps an external payout provider failure onto a
// single item. It triggers a refund and marks the item failed.
type ProviderDispatchError struct {
	Code    string
	Message string
}

func (e *ProviderDispatchError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider dispatch failed: %s", e.Code)
	}
	return fmt.Sprintf("provider dispatch failed: %s: %s", e.Code, e.Message)
}
