package auth

import "time"

// User represents an account record owned by the user directory. The auth
// engine only reads it and checks CanLogin before issuing credentials.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	SocialID     string
	Provider     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanLogin reports whether the account may receive tokens.
func (u *User) CanLogin() bool {
	return u != nil && u.Status == StatusActive
}

const (
	StatusActive      = "active"
	StatusDeactivated = "deactivated"
)

// TokenPair is the immutable result of one issuance or rotation. It is
// never mutated, only superseded by the next rotation.
type TokenPair struct {
	AccessToken       string
	RefreshToken      string
	AccessTTLSeconds  int64
	RefreshTTLSeconds int64
	AccessTokenID     string
	RefreshTokenID    string
	FamilyID          string
	TokenType         string
}

// AuthType distinguishes what a verification code proves ownership of.
type AuthType string

const (
	AuthTypeEmail   AuthType = "EMAIL"
	AuthTypePhone   AuthType = "PHONE"
	AuthTypeCompany AuthType = "COMPANY"
)

// VerificationRecord is a persisted attempt to prove ownership of a target
// via a time-boxed numeric code. Records survive success for audit; only
// the cache mirror is evicted on terminal states.
type VerificationRecord struct {
	ID           string
	UserID       string
	AuthType     AuthType
	Target       string
	Code         string
	ExpiresAt    time.Time
	Verified     bool
	VerifiedAt   *time.Time
	AttemptCount int
	IPAddress    string
	CreatedAt    time.Time
}

// LoginSession records one session row per issued access token.
type LoginSession struct {
	ID          string
	UserID      string
	AccessToken string
	IPAddress   string
	UserAgent   string
	ExpiresAt   time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time
}
