// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package session

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned for tokens whose exp claim has passed.
var ErrTokenExpired = errors.New("session: token expired")

// ErrTokenInvalid is returned for tokens that cannot be decoded or verified.
var ErrTokenInvalid = errors.New("session: token invalid")

// Claims are the auth backend token claims. sub is the identity.
type Claims struct {
	UserID userID   `json:"id,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// userID accepts the id claim as a JSON string or number.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*u = ""
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		*u = userID(unq)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("id claim: %w", err)
	}
	*u = userID(s)
	return nil
}

// TokenParser extracts claims from access tokens.
//
// With a secret it verifies HS256 signatures. Without one it only decodes the
// token, which is enough to learn identity and expiry locally; the backends
// remain the authority on validity.
type TokenParser struct {
	secret []byte
	now    func() time.Time
}

// NewTokenParser creates a parser. An empty secret disables verification.
func NewTokenParser(secret string) *TokenParser {
	p := &TokenParser{now: time.Now}
	if secret != "" {
		p.secret = []byte(secret)
	}
	return p
}

// Verifying reports whether signatures are checked.
func (p *TokenParser) Verifying() bool { return p.secret != nil }

// Parse decodes token and checks sub and exp.
func (p *TokenParser) Parse(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty", ErrTokenInvalid)
	}

	claims := &Claims{}
	if p.secret != nil {
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return p.secret, nil
		}, jwt.WithTimeFunc(p.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
		if claims.ExpiresAt != nil && !p.now().Before(claims.ExpiresAt.Time) {
			return nil, ErrTokenExpired
		}
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrTokenInvalid)
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// normalizeRoles turns the roles claim into a sorted set.
func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
