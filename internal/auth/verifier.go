// Package auth validates the two credential kinds the realtime gateway
// accepts: short-lived signed bearer tokens for players and static
// per-user display tokens for stream overlays.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers bad signatures, expiry and malformed claims.
	ErrInvalidToken = errors.New("invalid token")
)

// UserLookup resolves token subjects to user records. The store package
// provides the production implementation.
type UserLookup interface {
	FindUserByID(ctx context.Context, id string) (*UserIdentity, error)
	FindUserByStreamToken(ctx context.Context, token string) (*UserIdentity, error)
}

// UserIdentity is the slice of the user record the gateway needs.
type UserIdentity struct {
	ID          string
	DisplayName string
}

// Verifier checks bearer tokens and resolves their subject.
type Verifier struct {
	secret []byte
	users  UserLookup
}

// NewVerifier creates a verifier signing-key and user-lookup pair.
func NewVerifier(secret []byte, users UserLookup) *Verifier {
	return &Verifier{secret: secret, users: users}
}

// VerifyBearer validates an HS256 bearer token's signature and expiry
// and resolves its subject to a user.
func (v *Verifier) VerifyBearer(ctx context.Context, token string) (*UserIdentity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidToken
	}

	user, err := v.users.FindUserByID(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolve token subject: %w", err)
	}
	return user, nil
}

// VerifyDisplayToken resolves a static overlay token to its owner.
func (v *Verifier) VerifyDisplayToken(ctx context.Context, token string) (*UserIdentity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	user, err := v.users.FindUserByStreamToken(ctx, token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}
