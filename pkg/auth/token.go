// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package auth verifies the tokens clients connect with, and looks up who they belong to.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrInvalidToken is returned for missing, malformed, expired, or badly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Identity is who a verified token belongs to.
type Identity struct {
	UserID string
}

// A Verifier checks a token and returns who it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims holds the JWT claims of an access token.
// The user ID is read from "user_id", falling back to the subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// JWT verifies and issues HS256 tokens.
type JWT struct {
	key    []byte
	issuer string
	expiry time.Duration
}

// NewJWT creates a JWT verifier with a shared secret.
// If issuer isn't empty, tokens must carry it.
func NewJWT(secret, issuer string, expiry time.Duration) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("no JWT secret configured")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWT{
		key:    []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}, nil
}

// Verify parses and validates a token.
func (j *JWT) Verify(ctx context.Context, tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, errors.Wrap(ErrInvalidToken, "no token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return j.key, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errors.Wrap(ErrInvalidToken, "bad claims")
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, errors.Wrap(ErrInvalidToken, "no user ID in claims")
	}
	return Identity{UserID: id}, nil
}

// Issue signs a token for userID that expires after the configured expiry.
func (j *JWT) Issue(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.key)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
