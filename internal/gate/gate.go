// Package gate implements the request filter every protected route passes
// through. A request is admitted when it carries either the shared bootstrap
// secret or a valid, unexpired session token.
package gate

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/obs"
	"cinemaws.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer "

	msgUnauthorized   = "Unauthorized"
	msgSessionExpired = "session expired"
	msgSessionRevoked = "session revoked"
)

// ErrUnauthorized indicates a missing credential.
var ErrUnauthorized = errors.New("gate: unauthorized")

// Verifier checks session tokens.
type Verifier interface {
	Verify(token string) (*session.Claims, error)
}

// Revoker is consulted after signature and expiry checks pass.
type Revoker interface {
	CheckSession(ctx context.Context, accountID string, epoch int) error
}

// Admission describes how a request got through.
type Admission struct {
	Bootstrap bool
	AccountID string
}

// Gate is the authentication filter.
type Gate struct {
	bootstrap []byte
	verifier  Verifier
	revoker   Revoker
}

// Option configures a Gate.
type Option func(*Gate)

// WithRevoker enables the per-account revocation check.
func WithRevoker(r Revoker) Option {
	return func(g *Gate) {
		g.revoker = r
	}
}

// New returns a Gate admitting bootstrapSecret and tokens accepted by v. An
// empty bootstrapSecret admits nothing on its own.
func New(bootstrapSecret string, v Verifier, opts ...Option) *Gate {
	g := &Gate{
		bootstrap: []byte(strings.TrimSpace(bootstrapSecret)),
		verifier:  v,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit decides a single request. Errors are ErrUnauthorized,
// session.ErrSessionExpired, identity.ErrSessionRevoked or a
// *session.VerifyError.
func (g *Gate) Admit(r *http.Request) (Admission, error) {
	credential := extractCredential(r.Header.Get(authHeader))
	if credential == "" {
		return Admission{}, ErrUnauthorized
	}
	if len(g.bootstrap) > 0 && subtle.ConstantTimeCompare([]byte(credential), g.bootstrap) == 1 {
		return Admission{Bootstrap: true}, nil
	}
	if g.verifier == nil {
		return Admission{}, ErrUnauthorized
	}
	claims, err := g.verifier.Verify(credential)
	if err != nil {
		return Admission{}, err
	}
	if g.revoker != nil {
		if err := g.revoker.CheckSession(r.Context(), claims.AccountID(), claims.Epoch); err != nil {
			return Admission{}, err
		}
	}
	return Admission{AccountID: claims.AccountID()}, nil
}

// Middleware rejects requests that Admit refuses with 401 and a JSON body.
// Pre-flight requests pass untouched.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		adm, err := g.Admit(r)
		if err != nil {
			g.reject(w, r, err)
			return
		}
		if adm.Bootstrap {
			obs.ObserveGateDecision("bootstrap")
			next.ServeHTTP(w, r)
			return
		}
		obs.ObserveGateDecision("session")
		ctx := identity.ContextWithAccountID(r.Context(), adm.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	var (
		decision string
		message  string
		status   = http.StatusUnauthorized
	)
	var verr *session.VerifyError
	switch {
	case errors.Is(err, ErrUnauthorized):
		decision, message = "missing", msgUnauthorized
	case errors.Is(err, session.ErrSessionExpired):
		decision, message = "expired", msgSessionExpired
	case errors.Is(err, identity.ErrSessionRevoked):
		decision, message = "revoked", msgSessionRevoked
	case errors.As(err, &verr):
		decision, message = "invalid", verr.Error()
	default:
		decision, message, status = "error", "authentication error", http.StatusInternalServerError
		obs.Logger().Error("gate check failed", "path", r.URL.Path, "error", err.Error())
	}
	obs.ObserveGateDecision(decision)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}

// extractCredential accepts the raw header value or a Bearer-prefixed one.
func extractCredential(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
		header = strings.TrimSpace(header[len(bearer):])
	}
	return header
}
