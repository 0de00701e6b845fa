package entity

import "errors"

// Domain-specific errors for entity operations.
var (
	// ErrNotFound is returned when the host does not know an entity.
	ErrNotFound = errors.New("entity: not found")

	// ErrInvalidEntityID is returned for ids not shaped "<domain>.<object_id>".
	ErrInvalidEntityID = errors.New("entity: invalid entity id")

	// ErrUnknownDomain is returned for domains outside ValidDomains.
	ErrUnknownDomain = errors.New("entity: unsupported domain")

	// ErrReadOnly is returned when a command targets a sensor or binary sensor.
	ErrReadOnly = errors.New("entity: domain is read-only")

	// ErrInvalidChange is returned when a change cannot be translated for a domain.
	ErrInvalidChange = errors.New("entity: invalid change")

	// ErrExecutionFailed wraps host platform failures.
	ErrExecutionFailed = errors.New("entity: execution failed")
)
