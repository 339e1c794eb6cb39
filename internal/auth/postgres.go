package auth

import (
	"context"
	"database/sql"
	"time"

	"authcore.io/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) Verifications(context context.Context) VerificationStore {
	return &verificationStore{db: s.db}
}
func (s *PGStore) Sessions(context context.Context) SessionStore { return &sessionStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, role, status, social_id, provider)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.Status, nullable(u.SocialID), nullable(u.Provider),
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, role, status, coalesce(social_id,''), coalesce(provider,''), created_at, updated_at
		 from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, role, status, coalesce(social_id,''), coalesce(provider,''), created_at, updated_at
		 from users where email=$1`, email))
}

func (s *userStore) FindBySocialID(ctx context.Context, provider, socialID string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, role, status, coalesce(social_id,''), coalesce(provider,''), created_at, updated_at
		 from users where provider=$1 and social_id=$2`, provider, socialID))
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) scanOne(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.SocialID, &u.Provider, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Verification store -------------------------------------------------------
type verificationStore struct{ db *sql.DB }

func (s *verificationStore) Create(ctx context.Context, rec *VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into verification_records(id, user_id, auth_type, target, code, expires_at, verified, attempt_count, ip_address, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, nullable(rec.UserID), string(rec.AuthType), rec.Target, rec.Code,
		rec.ExpiresAt, rec.Verified, rec.AttemptCount, nullable(rec.IPAddress), rec.CreatedAt,
	)
	return err
}

func (s *verificationStore) Find(ctx context.Context, id string) (*VerificationRecord, error) {
	return scanVerification(s.db.QueryRowContext(ctx,
		`select id, coalesce(user_id,''), auth_type, target, code, expires_at, verified, verified_at, attempt_count, coalesce(ip_address,''), created_at
		 from verification_records where id=$1`, id))
}

func (s *verificationStore) FindLatest(ctx context.Context, authType AuthType, target string) (*VerificationRecord, error) {
	return scanVerification(s.db.QueryRowContext(ctx,
		`select id, coalesce(user_id,''), auth_type, target, code, expires_at, verified, verified_at, attempt_count, coalesce(ip_address,''), created_at
		 from verification_records where auth_type=$1 and target=$2
		 order by created_at desc limit 1`, string(authType), target))
}

// IncrementAttempts bumps the attempt count only when it still equals
// prevCount, so a concurrent double submission surfaces as ErrConflict
// instead of a lost update.
func (s *verificationStore) IncrementAttempts(ctx context.Context, id string, prevCount int) error {
	res, err := s.db.ExecContext(ctx,
		`update verification_records set attempt_count = attempt_count + 1
		 where id=$1 and attempt_count=$2`, id, prevCount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *verificationStore) MarkVerified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update verification_records set verified=true, verified_at=$2
		 where id=$1 and not verified`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Already verified; success stays idempotent.
		return nil
	}
	return nil
}

func scanVerification(row *sql.Row) (*VerificationRecord, error) {
	var (
		rec        VerificationRecord
		authType   string
		verifiedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &authType, &rec.Target, &rec.Code,
		&rec.ExpiresAt, &rec.Verified, &verifiedAt, &rec.AttemptCount, &rec.IPAddress, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.AuthType = AuthType(authType)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
	}
	return &rec, nil
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *LoginSession) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into login_sessions(id, user_id, access_token, ip_address, user_agent, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.UserID, sess.AccessToken, nullable(sess.IPAddress), nullable(sess.UserAgent),
		sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*LoginSession, error) {
	var (
		sess    LoginSession
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`select id, user_id, access_token, coalesce(ip_address,''), coalesce(user_agent,''), expires_at, ended_at, created_at
		 from login_sessions where id=$1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.IPAddress, &sess.UserAgent, &sess.ExpiresAt, &endedAt, &sess.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func (s *sessionStore) EndAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update login_sessions set ended_at=$2 where user_id=$1 and ended_at is null`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) EndByAccessToken(ctx context.Context, accessToken string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update login_sessions set ended_at=$2 where access_token=$1 and ended_at is null`, accessToken, at)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
