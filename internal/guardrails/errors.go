package guardrails

import "errors"

var (
	// ErrConfigurationMissing means no usable active config exists for a scope.
	// Validation must not proceed without one.
	ErrConfigurationMissing = errors.New("guardrails: no active configuration")
	ErrNotFound             = errors.New("guardrails: config version not found")
	ErrSignatureInvalid     = errors.New("guardrails: config signature invalid")
	ErrInvalidDocument      = errors.New("guardrails: invalid document")
)
