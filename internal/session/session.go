// Package session issues and verifies the signed, time-limited tokens handed
// out at sign-in. Tokens are stateless: nothing is stored server-side.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "cinemaws"

var (
	// ErrSessionExpired indicates a well-formed token past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidToken indicates a malformed token or a bad signature.
	ErrInvalidToken = errors.New("invalid token")
)

// VerifyError carries the parser's reason for rejecting a token.
type VerifyError struct {
	Err error
}

func (e *VerifyError) Error() string {
	return e.Err.Error()
}

func (e *VerifyError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Claims are the JWT claims embedded in a session token. Subject is the
// account id.
type Claims struct {
	Epoch int `json:"epoch"`
	jwt.RegisteredClaims
}

// AccountID returns the account the token was issued to.
func (c *Claims) AccountID() string {
	return c.Subject
}

// Issuer mints and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithIssuer overrides the iss claim.
func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithClock overrides the time source used for iat, exp and verification.
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer returns an Issuer signing with secret.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: signing secret is not configured")
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for accountID that expires ttl after now.
func (i *Issuer) Issue(accountID string, ttl time.Duration, epoch int) (string, time.Time, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, time.Time{}, errors.New("session: account id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, time.Time{}, errors.New("session: ttl must be greater than zero")
	}
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	claims := Claims{
		Epoch: epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, issuedAt, expiresAt, nil
}

// Verify checks signature, issuer and expiry. It returns ErrSessionExpired
// for expired tokens and a *VerifyError for anything else.
func (i *Issuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &VerifyError{Err: errors.New("token is empty")}
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, &VerifyError{Err: err}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &VerifyError{Err: errors.New("token is invalid")}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, &VerifyError{Err: errors.New("token subject is missing")}
	}
	return claims, nil
}
