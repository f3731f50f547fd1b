// Copyright 2026 The Licentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token issues signed license tokens: portable proof that an active
// assignment grants a seat, consumable by client software offline.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors
var (
	ErrTokenInvalid = errors.New("license token is invalid")
	ErrTokenExpired = errors.New("license token has expired")
)

// Claims carried by a license token.
type Claims struct {
	LicenseID    string `json:"license_id"`
	LicenseName  string `json:"license_name"`
	AssignmentID string `json:"assignment_id"`
	Holder       string `json:"holder"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies license tokens with an Ed25519 key pair.
type Issuer struct {
	issuer   string
	lifetime time.Duration
	private  ed25519.PrivateKey
	public   ed25519.PublicKey
	kid      string
}

// NewIssuer creates an issuer with a freshly generated key pair. Key
// rotation and persistence are not implemented; restarting the service
// invalidates previously issued tokens.
func NewIssuer(issuer string, lifetime time.Duration) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	// Stable, deterministic kid from the public key
	hash := sha256.Sum256(pub)
	kid := base64.RawURLEncoding.EncodeToString(hash[:16])

	return &Issuer{
		issuer:   issuer,
		lifetime: lifetime,
		private:  priv,
		public:   pub,
		kid:      kid,
	}, nil
}

// Issue signs a license token for an active assignment.
func (i *Issuer) Issue(licenseID, licenseName, assignmentID, holder string) (string, error) {
	now := time.Now()
	claims := Claims{
		LicenseID:    licenseID,
		LicenseName:  licenseName,
		AssignmentID: assignmentID,
		Holder:       holder,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   holder,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = i.kid

	signed, err := t.SignedString(i.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign license token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a license token.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.public, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !t.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// PublicKey returns the raw verification key for export to clients.
func (i *Issuer) PublicKey() ed25519.PublicKey { return i.public }

// KeyID returns the stable key identifier.
func (i *Issuer) KeyID() string { return i.kid }
