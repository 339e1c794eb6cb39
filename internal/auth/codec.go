package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// reservedMetaClaims are registered claim names that must never leak into
// the free-form metadata map when a token is decoded.
var reservedMetaClaims = []string{"nbf", "aud", "iss"}

// TokenPayload is the decoded content of a signed token.
type TokenPayload struct {
	Subject   string
	Email     string
	Role      string
	TokenType string
	FamilyID  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Metadata  map[string]string
}

// Claims carries identity and family claims across sign/verify.
type Claims struct {
	Email     string            `json:"email,omitempty"`
	Role      string            `json:"role,omitempty"`
	TokenType string            `json:"token_type"`
	FamilyID  string            `json:"family_id,omitempty"`
	Metadata  map[string]string `json:"meta,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewCodec builds a Codec. The secret must not be empty.
func NewCodec(secret, issuer string, now func() time.Time) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: []byte(secret), issuer: issuer, now: now}, nil
}

// Sign produces a signed token for the payload with the given lifetime.
func (c *Codec) Sign(p TokenPayload, ttl time.Duration) (string, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return "", errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := c.now().UTC()
	claims := Claims{
		Email:     p.Email,
		Role:      p.Role,
		TokenType: p.TokenType,
		FamilyID:  p.FamilyID,
		Metadata:  p.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        p.TokenID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify checks the signature and required claims and returns the payload.
func (c *Codec) Verify(raw string) (TokenPayload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return TokenPayload{}, ErrInvalidToken
	}
	if err := c.validateClaims(claims); err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	return TokenPayload{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		TokenType: claims.TokenType,
		FamilyID:  claims.FamilyID,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Metadata:  scrubMetadata(claims.Metadata),
	}, nil
}

func (c *Codec) validateClaims(claims *Claims) error {
	if c.issuer != "" && claims.Issuer != c.issuer {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := c.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func scrubMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	for _, reserved := range reservedMetaClaims {
		delete(out, reserved)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
