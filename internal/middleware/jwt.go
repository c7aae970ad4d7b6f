// Package middleware provides the HTTP middleware of the interpreter host:
// bearer-token authentication, request ids, request logging and rate limiting.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the identity carried by a validated token.
type Claims struct {
	Subject string
	Issuer  string
	// Groups are additional principals the subject may act as.
	Groups []string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// HS256Validator validates tokens signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
}

var _ TokenValidator = (*HS256Validator)(nil)

// NewHS256Validator creates a validator for secret.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies tokenString and extracts sub, iss and groups.
func (v *HS256Validator) Validate(_ context.Context, tokenString string) (*Claims, error) {
	tok, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}

	claims := &Claims{}
	claims.Subject, _ = raw["sub"].(string)
	claims.Issuer, _ = raw["iss"].(string)
	switch g := raw["groups"].(type) {
	case string:
		claims.Groups = []string{g}
	case []interface{}:
		for _, v := range g {
			if s, ok := v.(string); ok && s != "" {
				claims.Groups = append(claims.Groups, s)
			}
		}
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IssueHS256 signs a token for subject and groups valid for ttl.
func IssueHS256(secret, subject string, groups []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}
