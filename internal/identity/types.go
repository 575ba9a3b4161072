package identity

import (
	"context"
	"time"
)

// Account is the canonical credential record. PasswordHash is empty until the
// owner registers.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Registered reports whether the owner has set a password.
func (a Account) Registered() bool {
	return a.PasswordHash != ""
}

// AccountPatch carries the credential fields to change; nil fields are kept.
type AccountPatch struct {
	Username     *string
	PasswordHash *string
}

// Profile holds display attributes and the session timeout for an account id.
type Profile struct {
	ID                    string
	FirstName             string
	LastName              string
	CreatedDate           time.Time
	SessionTimeoutMinutes int
	// TokenEpoch is bumped whenever outstanding sessions must stop verifying.
	TokenEpoch int
}

// Grant holds the permission set for an account id.
type Grant struct {
	ID          string
	Permissions []string
}

// View is the composed read model: Account joined with its Profile and Grant.
type View struct {
	ID                    string
	Username              string
	FirstName             string
	LastName              string
	CreatedDate           time.Time
	SessionTimeoutMinutes int
	Permissions           []string
	Registered            bool
	// Incomplete is set when the Profile or the Grant row is missing.
	Incomplete bool
}

// FullName joins first and last name the way sign-in reports it.
func (v View) FullName() string {
	switch {
	case v.FirstName == "":
		return v.LastName
	case v.LastName == "":
		return v.FirstName
	}
	return v.FirstName + " " + v.LastName
}

// SignIn is the result of a successful authentication.
type SignIn struct {
	View      View
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewAccount is the administrator's provisioning request.
type NewAccount struct {
	Username              string
	FirstName             string
	LastName              string
	SessionTimeoutMinutes int
	Permissions           []string
}

// AccountUpdate replaces the mutable fields of an account. A zero CreatedDate
// keeps the stored one.
type AccountUpdate struct {
	ID                    string
	Username              string
	FirstName             string
	LastName              string
	CreatedDate           time.Time
	SessionTimeoutMinutes int
	Permissions           []string
}

// CredentialStore is the source of truth for account existence and
// authentication. Misses are reported as ErrNotFound.
type CredentialStore interface {
	Create(ctx context.Context, username, passwordHash string) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Update(ctx context.Context, id string, patch AccountPatch) (Account, error)
	Delete(ctx context.Context, id string) (Account, error)
	List(ctx context.Context) ([]Account, error)
}

// SideStore keeps profiles and grants keyed by account id. Upserts and
// deletes are atomic per record. Misses are reported as ErrNotFound.
type SideStore interface {
	FindProfile(ctx context.Context, id string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
	DeleteProfile(ctx context.Context, id string) error
	ListProfiles(ctx context.Context) ([]Profile, error)

	FindGrant(ctx context.Context, id string) (Grant, error)
	UpsertGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, id string) error
	ListGrants(ctx context.Context) ([]Grant, error)
}

// TokenIssuer mints session tokens for a signed-in account.
type TokenIssuer interface {
	Issue(accountID string, ttl time.Duration, epoch int) (token string, issuedAt, expiresAt time.Time, err error)
}
