// Package common defines shared constants and sentinel errors used across
// the meterlog components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Record lifecycle errors.
	ErrUnownedRecord = errors.New("record has no owner")
	ErrNoConflict    = errors.New("record has no pending conflict")

	// Wire decode errors. ErrMissingField and ErrInvalidID are always
	// returned wrapped with the offending field name.
	ErrMissingField = errors.New("missing or mistyped field")
	ErrInvalidID    = errors.New("invalid record id")

	// Validation errors raised by the reading service.
	ErrInvalidMeterType = errors.New("unknown meter type")
	ErrInvalidValue     = errors.New("value is not a decimal number")
)
