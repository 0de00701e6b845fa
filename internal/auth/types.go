package auth

import (
	"strings"
	"time"
	"unicode/utf8"
)

// maxNameLength bounds client display names.
const maxNameLength = 64

// ValidateName checks a client display name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}

// ClientRecord is a registered sync client. Records are never deleted;
// revocation is a flag. Treat values as immutable once stored.
type ClientRecord struct {
	ID        string     `json:"client_id" cbor:"1,keyasint"`
	Name      string     `json:"name" cbor:"2,keyasint"`
	TokenHash string     `json:"-" cbor:"3,keyasint"` // never serialised to JSON
	CreatedAt time.Time  `json:"created_at" cbor:"4,keyasint"`
	ExpiresAt time.Time  `json:"expires_at" cbor:"5,keyasint"`
	Revoked   bool       `json:"revoked" cbor:"6,keyasint"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" cbor:"7,keyasint,omitempty"`
}
