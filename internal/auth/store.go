package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Verifications(ctx context.Context) VerificationStore
	Sessions(ctx context.Context) SessionStore
}

// UserStore is the read/write port onto the user directory.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindBySocialID(ctx context.Context, provider, socialID string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// VerificationStore is the durable source of truth for verification
// records. Attempt increments are conditional on the previous count so a
// double-submitted code cannot produce a lost update; a stale count yields
// ErrConflict.
type VerificationStore interface {
	Create(ctx context.Context, rec *VerificationRecord) error
	Find(ctx context.Context, id string) (*VerificationRecord, error)
	FindLatest(ctx context.Context, authType AuthType, target string) (*VerificationRecord, error)
	IncrementAttempts(ctx context.Context, id string, prevCount int) error
	MarkVerified(ctx context.Context, id string, at time.Time) error
}

// SessionStore manages login session rows.
type SessionStore interface {
	Create(ctx context.Context, s *LoginSession) error
	Find(ctx context.Context, id string) (*LoginSession, error)
	EndAll(ctx context.Context, userID string, at time.Time) (int64, error)
	EndByAccessToken(ctx context.Context, accessToken string, at time.Time) error
}
