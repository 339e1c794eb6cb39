package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T) (*Issuer, *MemoryFamilyStore) {
	t.Helper()
	codec := newTestCodec(t, nil)
	families := NewMemoryFamilyStore(nil)
	issuer := NewIssuer(codec, families, WithAccessTTL(30*time.Minute), WithRefreshTTL(7*24*time.Hour))
	return issuer, families
}

func TestIssueCreatesFreshFamily(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.FamilyID == "" || pair.AccessTokenID == "" || pair.RefreshTokenID == "" {
		t.Fatalf("missing identifiers: %+v", pair)
	}
	if pair.TokenType != BearerTokenType {
		t.Fatalf("unexpected token type: %s", pair.TokenType)
	}
	if pair.AccessTTLSeconds != 1800 || pair.RefreshTTLSeconds != 604800 {
		t.Fatalf("unexpected TTLs: %d/%d", pair.AccessTTLSeconds, pair.RefreshTTLSeconds)
	}

	second, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if second.FamilyID == pair.FamilyID {
		t.Fatal("each login must mint a distinct family")
	}
}

func TestRotateKeepsFamilyAndChangesTokenID(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rotated, err := issuer.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.FamilyID != pair.FamilyID {
		t.Fatalf("rotation must keep the family: %s != %s", rotated.FamilyID, pair.FamilyID)
	}
	if rotated.RefreshTokenID == pair.RefreshTokenID {
		t.Fatal("rotation must mint a new refresh token id")
	}
}

func TestRotateDetectsReuseAndRevokesFamily(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := issuer.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first Rotate: %v", err)
	}

	// Replay of the already-rotated token is theft.
	if _, err := issuer.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenTheft) {
		t.Fatalf("expected ErrTokenTheft on replay, got %v", err)
	}

	// Revocation covered the whole family: the legitimately rotated token
	// is dead too.
	if _, err := issuer.Rotate(ctx, rotated.RefreshToken); !errors.Is(err, ErrTokenTheft) {
		t.Fatalf("expected ErrTokenTheft after family revocation, got %v", err)
	}
}

// failingRevokeStore wraps a FamilyStore and fails every RevokeAll.
type failingRevokeStore struct {
	FamilyStore
	err error
}

func (s *failingRevokeStore) RevokeAll(ctx context.Context, userID string) error {
	return s.err
}

func TestRotateReportsTheftEvenWhenRevocationFails(t *testing.T) {
	codec := newTestCodec(t, nil)
	families := &failingRevokeStore{
		FamilyStore: NewMemoryFamilyStore(nil),
		err:         errors.New("redis unavailable"),
	}
	issuer := NewIssuer(codec, families)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Rotate(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("first Rotate: %v", err)
	}

	_, err = issuer.Rotate(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTokenTheft) {
		t.Fatalf("expected ErrTokenTheft despite failed revocation, got %v", err)
	}
}

func TestRotateRejectsAccessToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Rotate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for access token, got %v", err)
	}
}

func TestRotateRejectsGarbageToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	if _, err := issuer.Rotate(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeAllFamiliesCutsEveryDevice(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	first, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := issuer.Issue(ctx, "42", "a@x.com", "MENTEE", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := issuer.RevokeAllFamilies(ctx, "42"); err != nil {
		t.Fatalf("RevokeAllFamilies: %v", err)
	}
	if _, err := issuer.Rotate(ctx, first.RefreshToken); !errors.Is(err, ErrTokenTheft) {
		t.Fatalf("expected revoked family, got %v", err)
	}
	if _, err := issuer.Rotate(ctx, second.RefreshToken); !errors.Is(err, ErrTokenTheft) {
		t.Fatalf("expected revoked family, got %v", err)
	}
}

func TestRotateMetadataSurvivesRotation(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, "42", "a@x.com", "MENTOR", map[string]string{"profile": "mentor"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rotated, err := issuer.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	payload, err := issuer.codec.Verify(rotated.RefreshToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if payload.Metadata["profile"] != "mentor" {
		t.Fatalf("metadata lost across rotation: %v", payload.Metadata)
	}
	if payload.Role != "MENTOR" {
		t.Fatalf("role lost across rotation: %s", payload.Role)
	}
}
