// Package common defines shared sentinel errors used across the service
// layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound               = errors.New("not found")
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")

	// Orchestration errors.
	ErrInvalidRequest   = errors.New("invalid request")
	ErrGrantUnavailable = errors.New("grant unavailable")
)
