package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authcore.io/internal/obs"
)

// Service composes the issuer, verification service and session tracker
// into the authentication use cases.
type Service struct {
	store        Store
	issuer       *Issuer
	verification *VerificationService
	sessions     *SessionTracker
	providers    *ProviderRegistry
	now          func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithProviders installs the OAuth provider registry for social login.
func WithProviders(reg *ProviderRegistry) ServiceOption {
	return func(s *Service) {
		if reg != nil {
			s.providers = reg
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the orchestrator.
func NewService(store Store, issuer *Issuer, verification *VerificationService, sessions *SessionTracker, opts ...ServiceOption) *Service {
	svc := &Service{
		store:        store,
		issuer:       issuer,
		verification: verification,
		sessions:     sessions,
		providers:    NewProviderRegistry(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Login authenticates credentials and issues a token pair plus a session
// row. Every lookup, verify and status failure collapses into
// ErrAuthenticationFailed so callers cannot enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password, ipAddress, userAgent string) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrAuthenticationFailed
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, ErrAuthenticationFailed
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, ErrAuthenticationFailed
	}
	if !user.CanLogin() {
		return TokenPair{}, ErrAuthenticationFailed
	}
	pair, err := s.issueAndRecord(ctx, user, ipAddress, userAgent, nil)
	if err != nil {
		return TokenPair{}, err
	}
	obs.CountTokenIssued("login")
	return pair, nil
}

// SocialLogin exchanges a provider code for a normalized profile, finds or
// creates the matching account and issues a token pair.
func (s *Service) SocialLogin(ctx context.Context, providerID, code, ipAddress, userAgent string) (TokenPair, error) {
	provider, ok := s.providers.Lookup(providerID)
	if !ok {
		return TokenPair{}, ErrAuthenticationFailed
	}
	profile, err := provider.Exchange(ctx, code)
	if err != nil {
		return TokenPair{}, ErrAuthenticationFailed
	}
	users := s.store.Users(ctx)
	user, err := users.FindBySocialID(ctx, profile.Provider, profile.SocialID)
	if errors.Is(err, ErrNotFound) {
		user = &User{
			Email:    profile.Email,
			Role:     "MENTEE",
			Status:   StatusActive,
			SocialID: profile.SocialID,
			Provider: profile.Provider,
		}
		if err := users.Create(ctx, user); err != nil {
			return TokenPair{}, fmt.Errorf("create social user: %w", err)
		}
	} else if err != nil {
		return TokenPair{}, fmt.Errorf("find social user: %w", err)
	}
	if !user.CanLogin() {
		return TokenPair{}, ErrAuthenticationFailed
	}
	pair, err := s.issueAndRecord(ctx, user, ipAddress, userAgent, nil)
	if err != nil {
		return TokenPair{}, err
	}
	obs.CountTokenIssued("social")
	return pair, nil
}

// IssueTokens mints a pair directly for an already-authenticated principal.
func (s *Service) IssueTokens(ctx context.Context, userID, email, role string, metadata map[string]string) (TokenPair, error) {
	pair, err := s.issuer.Issue(ctx, userID, email, role, metadata)
	if err != nil {
		return TokenPair{}, err
	}
	obs.CountTokenIssued("direct")
	return pair, nil
}

// Refresh rotates a refresh token, re-checks the principal and records a
// session for the new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken, ipAddress, userAgent string) (TokenPair, error) {
	pair, err := s.issuer.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenTheft) {
			obs.CountTheftDetection()
			obs.Warn("auth.token.theft", map[string]any{"ip": ipAddress})
		}
		return TokenPair{}, err
	}
	payload, err := s.issuer.codec.Verify(pair.AccessToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, payload.Subject)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if !user.CanLogin() {
		// The rotation already consumed the old id; drop the new family
		// entry too so a deactivated account holds nothing usable.
		_ = s.issuer.RevokeAllFamilies(ctx, user.ID)
		return TokenPair{}, ErrAccountDeactivated
	}
	if _, err := s.sessions.Record(ctx, user.ID, pair.AccessToken, ipAddress, userAgent, time.Duration(pair.AccessTTLSeconds)*time.Second); err != nil {
		return TokenPair{}, err
	}
	obs.CountTokenIssued("refresh")
	return pair, nil
}

// Logout consumes the refresh token's family entry and ends the session
// tied to the presented access token. Both are best effort.
func (s *Service) Logout(ctx context.Context, refreshToken, accessToken string) error {
	payload, err := s.issuer.codec.Verify(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	if payload.FamilyID != "" {
		_, _ = s.issuer.families.CompareAndDelete(ctx, payload.Subject, payload.FamilyID, payload.TokenID)
	}
	if accessToken != "" {
		_ = s.sessions.Terminate(ctx, accessToken)
	}
	return nil
}

// ResetOutcome reports what a password reset accomplished. Warning is set
// when session termination failed; the reset itself still succeeded.
type ResetOutcome struct {
	SessionsEnded int64
	Warning       string
}

// ResetPassword validates the verification code, re-hashes the password,
// revokes every refresh family and terminates all sessions. Session
// termination failures are surfaced as a warning, never as a failure of
// the reset itself.
func (s *Service) ResetPassword(ctx context.Context, email, verificationID, code, newPassword string) (ResetOutcome, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || newPassword == "" {
		return ResetOutcome{}, ErrInvalidInput
	}
	if err := s.verification.Validate(ctx, verificationID, code, AuthTypeEmail, email); err != nil {
		return ResetOutcome{}, err
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return ResetOutcome{}, ErrAuthenticationFailed
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return ResetOutcome{}, fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash); err != nil {
		return ResetOutcome{}, fmt.Errorf("update password: %w", err)
	}

	// Containment: a reset invalidates every outstanding credential, both
	// refresh families and live sessions.
	if err := s.issuer.RevokeAllFamilies(ctx, user.ID); err != nil {
		obs.Warn("auth.reset.revoke_families_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	}
	outcome := ResetOutcome{}
	ended, err := s.sessions.TerminateAll(ctx, user.ID)
	if err != nil {
		outcome.Warning = fmt.Sprintf("session termination failed: %v", err)
		obs.Warn("auth.reset.terminate_sessions_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	} else {
		outcome.SessionsEnded = ended
	}
	return outcome, nil
}

// StartVerification issues a code for (authType, target).
func (s *Service) StartVerification(ctx context.Context, authType AuthType, target, userID, ipAddress string) (IssuedVerification, error) {
	issued, err := s.verification.Issue(ctx, authType, target, userID, ipAddress)
	if err != nil {
		obs.CountVerificationSend(outcomeLabel(err))
		return IssuedVerification{}, err
	}
	obs.CountVerificationSend("ok")
	return issued, nil
}

// CompleteVerification validates a supplied code.
func (s *Service) CompleteVerification(ctx context.Context, verificationID, code string, authType AuthType, target string) error {
	err := s.verification.Validate(ctx, verificationID, code, authType, target)
	obs.CountVerificationValidation(outcomeLabel(err))
	return err
}

// AuthenticateAccess verifies an access token and loads its principal.
func (s *Service) AuthenticateAccess(ctx context.Context, accessToken string) (*User, error) {
	payload, err := s.issuer.codec.Verify(accessToken)
	if err != nil || payload.TokenType != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, payload.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.CanLogin() {
		return nil, ErrAccountDeactivated
	}
	return user, nil
}

func (s *Service) issueAndRecord(ctx context.Context, user *User, ipAddress, userAgent string, metadata map[string]string) (TokenPair, error) {
	pair, err := s.issuer.Issue(ctx, user.ID, user.Email, user.Role, metadata)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.sessions.Record(ctx, user.ID, pair.AccessToken, ipAddress, userAgent, time.Duration(pair.AccessTTLSeconds)*time.Second); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, ErrVerificationExpired):
		return "expired"
	case errors.Is(err, ErrAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
