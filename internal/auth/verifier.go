// Package auth verifies the opaque bearer credential a client presents on
// connect and extracts the stable external user identifier from it.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredential covers missing, malformed and badly signed tokens.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrCredentialExpired is distinct: the relay downgrades the claimed
	// user's presence when it sees it, since the client can no longer prove
	// liveness.
	ErrCredentialExpired = errors.New("credential expired")
)

// Claims is the identity extracted from a verified credential.
type Claims struct {
	ExternalID string
	ExpiresAt  time.Time
}

// Verifier validates bearer credentials. Implementations are stateless.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier validates HS256 tokens issued by the login service.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier for the shared signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token and returns the subject claim.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidCredential
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrCredentialExpired
		}
		return Claims{}, ErrInvalidCredential
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidCredential
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidCredential
	}
	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidCredential
	}

	claims := Claims{ExternalID: sub}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// Issue signs a token for the given external user id with an explicit TTL.
// The login service is the normal issuer; this is used by tooling and tests.
func (v *JWTVerifier) Issue(externalID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": externalID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
