package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends JWT standard claims with the client's display name.
// Subject carries the client id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// signToken creates a signed HS256 client token.
func signToken(secret []byte, clientID, name string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Name: name,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing client token: %w", err)
	}
	return signed, expires, nil
}

// parseToken verifies the signature and then the expiry of a client token.
// jwt/v5 checks the signature before any claim, so an expired result
// implies the signature was valid.
func parseToken(tokenString string, secret []byte, now time.Time) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &AuthError{Reason: ReasonExpired, Err: err}
		}
		return nil, &AuthError{Reason: ReasonInvalidSignature, Err: err}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, &AuthError{Reason: ReasonInvalidSignature, Err: errors.New("missing subject")}
	}
	return claims, nil
}

// HashToken computes the SHA-256 hash of a raw token for storage.
// Raw tokens are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
