package client

import "errors"

// Domain-specific errors for the sync client.
var (
	// ErrTransport indicates the Sync Channel or HTTP request failed.
	// It never terminates the client; the supervisor reconnects.
	ErrTransport = errors.New("client: transport failure")

	// ErrCommandTimeout indicates no command_result arrived in time.
	ErrCommandTimeout = errors.New("client: command timed out")

	// ErrUnauthorized indicates the server rejected the client token.
	ErrUnauthorized = errors.New("client: unauthorised")

	// ErrUnknownEntity indicates the entity is not in the local mirror.
	ErrUnknownEntity = errors.New("client: unknown entity")

	// ErrInvalidChange indicates a change that cannot apply to the entity.
	ErrInvalidChange = errors.New("client: invalid change")

	// ErrCommandRejected indicates the server answered with a failed result.
	ErrCommandRejected = errors.New("client: command rejected")
)
