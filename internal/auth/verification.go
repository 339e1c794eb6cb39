package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"authcore.io/internal/ids"
)

const (
	defaultCodeLength  = 6
	defaultCodeExpiry  = 5 * time.Minute
	defaultMaxAttempts = 5
	defaultCooldown    = 60 * time.Second

	// verifiedCacheTTL is the short extension granted on success so a
	// follow-up read-heavy step can reuse the verified state without
	// touching the durable store. It also floors the mismatch refresh.
	verifiedCacheTTL = 300 * time.Second
)

// IssuedVerification is returned to the caller after a code is delivered.
type IssuedVerification struct {
	VerificationID string
	ExpiresAt      time.Time
}

// VerificationService issues and validates out-of-band verification codes.
// The durable store is the source of truth for attempt counts and terminal
// state; the cache is an optimization that is invalidated on expiry and
// refreshed, never authoritatively written, on success.
type VerificationService struct {
	store       VerificationStore
	cache       VerificationCache
	sender      Sender
	codeLength  int
	codeExpiry  time.Duration
	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time
}

// VerificationOption configures VerificationService behavior.
type VerificationOption func(*VerificationService)

// WithCodeLength sets the number of digits in generated codes.
func WithCodeLength(n int) VerificationOption {
	return func(s *VerificationService) {
		if n > 0 {
			s.codeLength = n
		}
	}
}

// WithCodeExpiry sets how long an issued code stays valid.
func WithCodeExpiry(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.codeExpiry = d
		}
	}
}

// WithMaxAttempts sets the failed-attempt cap per record.
func WithMaxAttempts(n int) VerificationOption {
	return func(s *VerificationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCooldown sets the minimum spacing between issuances per target.
func WithCooldown(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithVerificationClock overrides the time source (useful for tests).
func WithVerificationClock(fn func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewVerificationService constructs the service.
func NewVerificationService(store VerificationStore, cache VerificationCache, sender Sender, opts ...VerificationOption) *VerificationService {
	svc := &VerificationService{
		store:       store,
		cache:       cache,
		sender:      sender,
		codeLength:  defaultCodeLength,
		codeExpiry:  defaultCodeExpiry,
		maxAttempts: defaultMaxAttempts,
		cooldown:    defaultCooldown,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Issue creates a verification record for (authType, target), persists it
// and delivers the code. A recent issuance inside the cooldown window is
// rejected with ErrRateLimited before any record is created. A delivery
// failure surfaces ErrDeliveryFailed even though the record was persisted;
// callers must treat a failed send as "no active verification".
func (s *VerificationService) Issue(ctx context.Context, authType AuthType, target, userID, ipAddress string) (IssuedVerification, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return IssuedVerification{}, ErrInvalidInput
	}

	now := s.now().UTC()
	latest, err := s.store.FindLatest(ctx, authType, target)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return IssuedVerification{}, fmt.Errorf("find latest verification: %w", err)
	}
	if latest != nil && now.Sub(latest.CreatedAt) < s.cooldown {
		return IssuedVerification{}, ErrRateLimited
	}
	// A retry after a failed or timed-out delivery reuses the pending
	// record while it is still valid instead of minting a duplicate.
	if latest != nil && !latest.Verified && latest.ExpiresAt.After(now) && latest.AttemptCount < s.maxAttempts {
		if err := s.sender.Send(ctx, target, verificationMessage(latest.Code)); err != nil {
			return IssuedVerification{}, wrapDeliveryErr(err)
		}
		s.mirror(ctx, latest, latest.ExpiresAt.Sub(now))
		return IssuedVerification{VerificationID: latest.ID, ExpiresAt: latest.ExpiresAt}, nil
	}

	code, err := generateNumericCode(s.codeLength)
	if err != nil {
		return IssuedVerification{}, fmt.Errorf("generate code: %w", err)
	}

	rec := &VerificationRecord{
		ID:        ids.New(),
		UserID:    userID,
		AuthType:  authType,
		Target:    target,
		Code:      code,
		ExpiresAt: now.Add(s.codeExpiry),
		IPAddress: ipAddress,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return IssuedVerification{}, fmt.Errorf("create verification record: %w", err)
	}
	s.mirror(ctx, rec, s.codeExpiry)

	if err := s.sender.Send(ctx, target, verificationMessage(code)); err != nil {
		return IssuedVerification{}, wrapDeliveryErr(err)
	}

	return IssuedVerification{VerificationID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

func wrapDeliveryErr(err error) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrDeliveryFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
}

// Validate checks a supplied code against the record. Success is
// idempotent: a record that is already verified returns nil without
// touching the attempt count. Mismatches increment the attempt count under
// a conditional update so double submissions cannot lose updates.
func (s *VerificationService) Validate(ctx context.Context, verificationID, suppliedCode string, authType AuthType, target string) error {
	rec, err := s.load(ctx, verificationID)
	if err != nil {
		return err
	}

	if rec.Verified {
		return nil
	}

	now := s.now().UTC()
	if rec.ExpiresAt.Before(now) {
		if s.cache != nil {
			_ = s.cache.Delete(ctx, rec.ID)
		}
		return ErrVerificationExpired
	}
	if rec.AttemptCount >= s.maxAttempts {
		return ErrAttemptsExceeded
	}

	if rec.Code != suppliedCode || rec.AuthType != authType || rec.Target != target {
		return s.recordMismatch(ctx, rec, now)
	}

	if err := s.store.MarkVerified(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	rec.Verified = true
	rec.VerifiedAt = &now
	s.mirror(ctx, rec, verifiedCacheTTL)
	return nil
}

func (s *VerificationService) recordMismatch(ctx context.Context, rec *VerificationRecord, now time.Time) error {
	for {
		err := s.store.IncrementAttempts(ctx, rec.ID, rec.AttemptCount)
		if err == nil {
			rec.AttemptCount++
			break
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("increment attempts: %w", err)
		}
		// Lost the race against a concurrent submission; reload and retry
		// against the fresh count.
		fresh, findErr := s.store.Find(ctx, rec.ID)
		if findErr != nil {
			return fmt.Errorf("reload verification record: %w", findErr)
		}
		*rec = *fresh
		if rec.Verified {
			return nil
		}
		if rec.AttemptCount >= s.maxAttempts {
			return ErrAttemptsExceeded
		}
	}

	ttl := rec.ExpiresAt.Sub(now)
	if ttl < verifiedCacheTTL {
		ttl = verifiedCacheTTL
	}
	s.mirror(ctx, rec, ttl)

	remaining := s.maxAttempts - rec.AttemptCount
	if remaining <= 0 {
		return ErrAttemptsExceeded
	}
	return &CodeMismatchError{Remaining: remaining}
}

// load prefers the cache mirror and falls back to the durable record on
// any miss or cache error.
func (s *VerificationService) load(ctx context.Context, id string) (*VerificationRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	if s.cache != nil {
		if rec, err := s.cache.Get(ctx, id); err == nil && rec != nil {
			return rec, nil
		}
	}
	rec, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find verification record: %w", err)
	}
	return rec, nil
}

func (s *VerificationService) mirror(ctx context.Context, rec *VerificationRecord, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	_ = s.cache.Set(ctx, rec, ttl)
}

func verificationMessage(code string) string {
	return fmt.Sprintf("Your verification code is %s", code)
}

func generateNumericCode(length int) (string, error) {
	const digits = "0123456789"
	// Reject bytes >= 250 so the modulo cannot skew toward low digits.
	code := make([]byte, 0, length)
	raw := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(raw); err != nil {
			return "", err
		}
		for _, b := range raw {
			if b >= 250 {
				continue
			}
			code = append(code, digits[int(b)%len(digits)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}
