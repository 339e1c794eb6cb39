package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionTracker appends one session row per issued access token and
// supports bulk termination after a password reset.
type SessionTracker struct {
	sessions SessionStore
	now      func() time.Time
}

func NewSessionTracker(sessions SessionStore, now func() time.Time) *SessionTracker {
	if now == nil {
		now = time.Now
	}
	return &SessionTracker{sessions: sessions, now: now}
}

// Record appends a session row for the freshly issued access token.
func (t *SessionTracker) Record(ctx context.Context, userID, accessToken, ipAddress, userAgent string, accessTTL time.Duration) (*LoginSession, error) {
	now := t.now().UTC()
	session := &LoginSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		AccessToken: accessToken,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		ExpiresAt:   now.Add(accessTTL),
		CreatedAt:   now,
	}
	if err := t.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create login session: %w", err)
	}
	return session, nil
}

// TerminateAll marks every open session for the user as ended now and
// returns how many rows were closed.
func (t *SessionTracker) TerminateAll(ctx context.Context, userID string) (int64, error) {
	return t.sessions.EndAll(ctx, userID, t.now().UTC())
}

// Terminate ends the single session tied to an access token.
func (t *SessionTracker) Terminate(ctx context.Context, accessToken string) error {
	return t.sessions.EndByAccessToken(ctx, accessToken, t.now().UTC())
}
