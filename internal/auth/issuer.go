package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 1800 * time.Second
	defaultRefreshTTL = 7 * 24 * time.Hour

	// BearerTokenType is the token_type reported alongside issued pairs.
	BearerTokenType = "Bearer"
)

// Issuer mints access/refresh token pairs and enforces single-use refresh
// rotation against the family store.
type Issuer struct {
	codec      *Codec
	families   FamilyStore
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// NewIssuer constructs an Issuer with optional configuration.
func NewIssuer(codec *Codec, families FamilyStore, opts ...IssuerOption) *Issuer {
	iss := &Issuer{
		codec:      codec,
		families:   families,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss
}

// RefreshTTL exposes the configured refresh lifetime for callers that need
// to align cache TTLs with it.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue mints a fresh pair under a brand-new family and records the
// refresh token id as the family's current one.
func (i *Issuer) Issue(ctx context.Context, userID, email, role string, metadata map[string]string) (TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, ErrInvalidInput
	}
	familyID := uuid.NewString()
	pair, err := i.mint(ctx, userID, email, role, familyID, metadata)
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair within the same family.
// Each refresh token is valid for exactly one rotation: a replay no longer
// matches the stored id, which revokes every family the user holds.
func (i *Issuer) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := i.codec.Verify(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if payload.TokenType != TokenTypeRefresh || payload.FamilyID == "" || payload.TokenID == "" {
		return TokenPair{}, ErrInvalidToken
	}

	ok, err := i.families.CompareAndDelete(ctx, payload.Subject, payload.FamilyID, payload.TokenID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("family store: %w", err)
	}
	if !ok {
		// A failed revocation must not mask the detection itself; callers
		// key the security response off ErrTokenTheft.
		if revokeErr := i.families.RevokeAll(ctx, payload.Subject); revokeErr != nil {
			return TokenPair{}, fmt.Errorf("%w: revoke families after reuse: %v", ErrTokenTheft, revokeErr)
		}
		return TokenPair{}, ErrTokenTheft
	}

	// Rotation keeps the family alive; only the token ids change.
	pair, err := i.mint(ctx, payload.Subject, payload.Email, payload.Role, payload.FamilyID, payload.Metadata)
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// RevokeAllFamilies deletes every family entry for the user. Used on theft
// detection and on password reset.
func (i *Issuer) RevokeAllFamilies(ctx context.Context, userID string) error {
	return i.families.RevokeAll(ctx, userID)
}

func (i *Issuer) mint(ctx context.Context, userID, email, role, familyID string, metadata map[string]string) (TokenPair, error) {
	accessID := uuid.NewString()
	refreshID := uuid.NewString()

	accessToken, err := i.codec.Sign(TokenPayload{
		Subject:   userID,
		Email:     email,
		Role:      role,
		TokenType: TokenTypeAccess,
		TokenID:   accessID,
		Metadata:  metadata,
	}, i.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := i.codec.Sign(TokenPayload{
		Subject:   userID,
		Email:     email,
		Role:      role,
		TokenType: TokenTypeRefresh,
		FamilyID:  familyID,
		TokenID:   refreshID,
		Metadata:  metadata,
	}, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := i.families.Put(ctx, userID, familyID, refreshID, i.refreshTTL); err != nil {
		return TokenPair{}, fmt.Errorf("family store: %w", err)
	}

	return TokenPair{
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		AccessTTLSeconds:  int64(i.accessTTL.Seconds()),
		RefreshTTLSeconds: int64(i.refreshTTL.Seconds()),
		AccessTokenID:     accessID,
		RefreshTokenID:    refreshID,
		FamilyID:          familyID,
		TokenType:         BearerTokenType,
	}, nil
}
