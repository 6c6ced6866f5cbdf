// Package auth verifies Clerk session JWTs via JWKS and validates issuer and authorized party.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const (
	defaultLeeway = 30 * time.Second
)

// Verifier validates Clerk session tokens against the instance JWKS endpoint.
type Verifier struct {
	issuer            string
	authorizedParties []string
	keyfunc           keyfunc.Keyfunc
	parser            *jwt.Parser
}

// NewVerifier builds a verifier with an optional JWKS URL override. When
// authorizedParties is non-empty, the token's azp claim must be one of them.
func NewVerifier(issuer, jwksURL string, authorizedParties []string) (*Verifier, error) {
	normalizedIssuer := normalizeIssuer(issuer)
	if normalizedIssuer == "" {
		return nil, errors.New("issuer must be set")
	}
	if jwksURL == "" {
		jwksURL = normalizedIssuer + "/.well-known/jwks.json"
	}

	keyProvider, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
	}

	parser := jwt.NewParser(
		jwt.WithIssuer(normalizedIssuer),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
	)

	return &Verifier{
		issuer:            normalizedIssuer,
		authorizedParties: authorizedParties,
		keyfunc:           keyProvider,
		parser:            parser,
	}, nil
}

// Verify parses and validates a JWT, returning extracted claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc.Keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{
		Subject:         readString(mapClaims, "sub"),
		Issuer:          readString(mapClaims, "iss"),
		SessionID:       readString(mapClaims, "sid"),
		AuthorizedParty: readString(mapClaims, "azp"),
		Email:           readString(mapClaims, "email"),
		ExpiresAt:       readExpiry(mapClaims["exp"]),
		Raw:             mapClaims,
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	if len(v.authorizedParties) > 0 && !slices.Contains(v.authorizedParties, claims.AuthorizedParty) {
		return nil, fmt.Errorf("unauthorized party %q", claims.AuthorizedParty)
	}
	return claims, nil
}

// Clerk issuers are bare origins, e.g. https://clerk.example.com.
func normalizeIssuer(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func readExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}

// AuthDisabled reports whether auth should be skipped for local development.
func AuthDisabled() bool {
	if strings.EqualFold(os.Getenv("AUTH_DISABLED"), "true") {
		if strings.EqualFold(os.Getenv("ENV"), "local") || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
			logger.Get().Warn("auth disabled via AUTH_DISABLED for local development")
			return true
		}
	}
	return false
}
