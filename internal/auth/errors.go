package auth

import "errors"

// Sentinel errors for the auth package.
var (
	// ErrUnauthorized matches every token validation failure.
	// The wire boundary reports only this, never the reason.
	ErrUnauthorized = errors.New("auth: unauthorised")

	// ErrInvalidSignature, ErrTokenExpired, ErrClientRevoked and
	// ErrUnknownClient identify the validation failure for logging.
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrClientRevoked    = errors.New("auth: client revoked")
	ErrUnknownClient    = errors.New("auth: unknown client")

	// ErrNoSecret is a configuration error: no shared secret is set.
	ErrNoSecret = errors.New("auth: shared secret not configured")

	// ErrClientNotFound is returned by the repository and Revoke.
	ErrClientNotFound = errors.New("auth: client not found")

	// ErrDuplicateName is returned by Register and Import when unique names
	// are enforced.
	ErrDuplicateName = errors.New("auth: client name already registered")

	// ErrInvalidName is returned for empty or oversized names.
	ErrInvalidName = errors.New("auth: invalid client name")

	// ErrInvalidBackup is returned when a backup blob cannot be decoded.
	ErrInvalidBackup = errors.New("auth: invalid backup")
)

// Reason distinguishes why a token failed validation.
type Reason string

const (
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonExpired          Reason = "expired"
	ReasonRevoked          Reason = "revoked"
	ReasonUnknownClient    Reason = "unknown_client"
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidSignature: ErrInvalidSignature,
	ReasonExpired:          ErrTokenExpired,
	ReasonRevoked:          ErrClientRevoked,
	ReasonUnknownClient:    ErrUnknownClient,
}

// AuthError is returned by Service.Validate. It matches ErrUnauthorized and
// the sentinel for its Reason.
type AuthError struct {
	Reason   Reason
	ClientID string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: unauthorised (" + string(e.Reason) + "): " + e.Err.Error()
	}
	return "auth: unauthorised (" + string(e.Reason) + ")"
}

// Is reports whether target is ErrUnauthorized or this error's reason sentinel.
func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized || target == reasonSentinels[e.Reason]
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure reason from err, or "" if err is not an AuthError.
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}
