package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authcore.io/internal/ids"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*User)}
}

func (s *memUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) FindBySocialID(ctx context.Context, provider, socialID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Provider == provider && u.SocialID == socialID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *memUserStore) setStatus(userID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Status = status
	}
}

func (s *memUserStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type memSessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*LoginSession
	failEndAll error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*LoginSession)}
}

func (s *memSessionStore) Create(ctx context.Context, session *LoginSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *memSessionStore) Find(ctx context.Context, id string) (*LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *memSessionStore) EndAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEndAll != nil {
		return 0, s.failEndAll
	}
	var ended int64
	for _, session := range s.sessions {
		if session.UserID == userID && session.EndedAt == nil {
			t := at
			session.EndedAt = &t
			ended++
		}
	}
	return ended, nil
}

func (s *memSessionStore) EndByAccessToken(ctx context.Context, accessToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.AccessToken == accessToken && session.EndedAt == nil {
			t := at
			session.EndedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

func (s *memSessionStore) open(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, session := range s.sessions {
		if session.UserID == userID && session.EndedAt == nil {
			n++
		}
	}
	return n
}

type fakeStore struct {
	users         *memUserStore
	verifications *memVerificationStore
	sessions      *memSessionStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         newMemUserStore(),
		verifications: newMemVerificationStore(),
		sessions:      newMemSessionStore(),
	}
}

func (s *fakeStore) Users(ctx context.Context) UserStore                 { return s.users }
func (s *fakeStore) Verifications(ctx context.Context) VerificationStore { return s.verifications }
func (s *fakeStore) Sessions(ctx context.Context) SessionStore           { return s.sessions }

type serviceFixture struct {
	svc    *Service
	store  *fakeStore
	issuer *Issuer
	sender *recordingSender
	clock  *time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &serviceFixture{
		store:  newFakeStore(),
		sender: &recordingSender{},
		clock:  &clock,
	}
	now := func() time.Time { return *f.clock }

	codec := newTestCodec(t, now)
	f.issuer = NewIssuer(codec, NewMemoryFamilyStore(now))
	verification := NewVerificationService(f.store.verifications, NewMemoryVerificationCache(now), f.sender,
		WithVerificationClock(now))
	tracker := NewSessionTracker(f.store.sessions, now)
	f.svc = NewService(f.store, f.issuer, verification, tracker, WithClock(now))
	return f
}

func (f *serviceFixture) addUser(t *testing.T, email, password, status string) *User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	user := &User{Email: email, PasswordHash: hash, Role: "MENTEE", Status: status}
	require.NoError(t, f.store.users.Create(context.Background(), user))
	return user
}

func TestLoginIssuesPairAndSession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)

	pair, err := f.svc.Login(context.Background(), "A@X.com", "hunter2!", "10.0.0.1", "cli/1.0")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, BearerTokenType, pair.TokenType)
	require.Equal(t, 1, f.store.sessions.open(user.ID))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	deactivated := f.addUser(t, "b@x.com", "hunter2!", StatusActive)
	f.store.users.setStatus(deactivated.ID, StatusDeactivated)
	ctx := context.Background()

	cases := []struct {
		name            string
		email, password string
	}{
		{"unknown account", "nobody@x.com", "hunter2!"},
		{"wrong password", "a@x.com", "wrong"},
		{"deactivated account", "b@x.com", "hunter2!"},
		{"empty credentials", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Login(ctx, tc.email, tc.password, "", "")
			require.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestRefreshRotatesAndRecordsSession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(ctx, pair.RefreshToken, "10.0.0.2", "cli/1.0")
	require.NoError(t, err)
	require.Equal(t, pair.FamilyID, rotated.FamilyID)
	require.NotEqual(t, pair.RefreshTokenID, rotated.RefreshTokenID)
	require.Equal(t, 2, f.store.sessions.open(user.ID))
}

func TestRefreshReplayIsTheft(t *testing.T) {
	f := newServiceFixture(t)
	f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrTokenTheft)

	// The detection revoked the whole family, legitimate holder included.
	_, err = f.svc.Refresh(ctx, rotated.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrTokenTheft)
}

func TestRefreshDeactivatedAccount(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)

	f.store.users.setStatus(user.ID, StatusDeactivated)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrAccountDeactivated)

	// Everything the account held was revoked on the way out.
	_, err = f.issuer.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenTheft)
}

func TestLogoutConsumesFamilyAndEndsSession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken, pair.AccessToken))
	require.Zero(t, f.store.sessions.open(user.ID))

	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrTokenTheft)
}

func TestResetPasswordRevokesEverything(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)

	issued, err := f.svc.StartVerification(ctx, AuthTypeEmail, "a@x.com", user.ID, "10.0.0.1")
	require.NoError(t, err)
	rec, err := f.store.verifications.Find(ctx, issued.VerificationID)
	require.NoError(t, err)

	outcome, err := f.svc.ResetPassword(ctx, "a@x.com", issued.VerificationID, rec.Code, "n3w-secret!")
	require.NoError(t, err)
	require.Equal(t, int64(1), outcome.SessionsEnded)
	require.Empty(t, outcome.Warning)

	// Old refresh families are dead.
	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrTokenTheft)

	// Old password no longer works, the new one does.
	_, err = f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.svc.Login(ctx, "a@x.com", "n3w-secret!", "", "")
	require.NoError(t, err)
}

func TestResetPasswordSessionFailureIsWarningOnly(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	issued, err := f.svc.StartVerification(ctx, AuthTypeEmail, "a@x.com", user.ID, "")
	require.NoError(t, err)
	rec, err := f.store.verifications.Find(ctx, issued.VerificationID)
	require.NoError(t, err)

	f.store.sessions.failEndAll = errors.New("sessions table offline")
	outcome, err := f.svc.ResetPassword(ctx, "a@x.com", issued.VerificationID, rec.Code, "n3w-secret!")
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Warning)
	require.Zero(t, outcome.SessionsEnded)

	// The credential change itself went through.
	_, err = f.svc.Login(ctx, "a@x.com", "n3w-secret!", "", "")
	require.NoError(t, err)
}

func TestResetPasswordRejectsBadCode(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	issued, err := f.svc.StartVerification(ctx, AuthTypeEmail, "a@x.com", user.ID, "")
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, "a@x.com", issued.VerificationID, "000000", "n3w-secret!")
	require.ErrorIs(t, err, ErrCodeMismatch)

	// Password unchanged.
	_, err = f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)
}

func TestSocialLoginFindsOrCreates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	providers := NewProviderRegistry()
	providers.Register("google", ProviderFunc(func(ctx context.Context, code string) (Profile, error) {
		if code != "good-code" {
			return Profile{}, errors.New("bad code")
		}
		return Profile{Provider: "google", SocialID: "g-123", Email: "s@x.com", Name: "Sam"}, nil
	}))
	WithProviders(providers)(f.svc)

	pair, err := f.svc.SocialLogin(ctx, "google", "good-code", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.Equal(t, 1, f.store.users.count())

	created, err := f.store.users.FindBySocialID(ctx, "google", "g-123")
	require.NoError(t, err)
	require.Equal(t, "s@x.com", created.Email)
	require.Equal(t, StatusActive, created.Status)

	// Second login reuses the account.
	_, err = f.svc.SocialLogin(ctx, "google", "good-code", "", "")
	require.NoError(t, err)
	require.Equal(t, 1, f.store.users.count())

	// Exchange failures collapse into the generic failure.
	_, err = f.svc.SocialLogin(ctx, "google", "bad-code", "", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.svc.SocialLogin(ctx, "unknown", "good-code", "", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestAuthenticateAccess(t *testing.T) {
	f := newServiceFixture(t)
	user := f.addUser(t, "a@x.com", "hunter2!", StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@x.com", "hunter2!", "", "")
	require.NoError(t, err)

	got, err := f.svc.AuthenticateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	// A refresh token is not an access credential.
	_, err = f.svc.AuthenticateAccess(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	f.store.users.setStatus(user.ID, StatusDeactivated)
	_, err = f.svc.AuthenticateAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrAccountDeactivated)
}
