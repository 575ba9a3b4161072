// Package httpapi is the HTTP surface of the staff identity service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/obs"
)

const serviceName = "cinemaws"

// Identity is the account lifecycle the handlers drive.
type Identity interface {
	RegisterCredentials(ctx context.Context, username, password string) (identity.Account, error)
	Authenticate(ctx context.Context, username, password string) (identity.SignIn, error)
	ListAccounts(ctx context.Context) ([]identity.View, error)
	CreateAccount(ctx context.Context, req identity.NewAccount) (identity.View, error)
	UpdateAccount(ctx context.Context, req identity.AccountUpdate) (identity.View, error)
	DeleteAccount(ctx context.Context, id string) error
	IsAdmin(username string) bool
}

// Gate guards every /users route.
type Gate interface {
	Middleware(next http.Handler) http.Handler
}

// Pinger is anything with a liveness ping, such as a store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every named dependency.
type ReadyProbe struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if len(rp.Checks) == 0 {
		return nil
	}
	if rp.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.Timeout)
		defer cancel()
	}
	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := rp.Checks[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Options tune the HTTP layer.
type Options struct {
	Version      string
	CORSOrigins  []string
	MaxBodyBytes int64
	RatePerSec   float64
	RateBurst    int
}

func (o Options) withDefaults() Options {
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 5
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	return o
}

// API is the HTTP layer.
type API struct {
	identity   Identity
	gate       Gate
	readyProbe ReadyProbe
	opts       Options
	limiter    *RateLimiter
	router     chi.Router
}

func New(svc Identity, g Gate, rp ReadyProbe, opts Options) *API {
	a := &API{
		identity:   svc,
		gate:       g,
		readyProbe: rp,
		opts:       opts.withDefaults(),
	}
	a.limiter = NewRateLimiter(a.opts.RateBurst, a.opts.RatePerSec)
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(AuditContext)
	r.Use(LoggingJSON)
	r.Use(cors.Handler(corsOptions(a.opts.CORSOrigins)))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/users", func(r chi.Router) {
		r.Use(a.gate.Middleware)
		r.With(a.limiter.Middleware).Post("/login", a.handleLogin)
		r.With(a.limiter.Middleware).Post("/register", a.handleRegister)
		r.Get("/", a.handleListAccounts)
		r.Put("/update", a.handleUpdateAccount)
		r.Delete("/delete/{id}", a.handleDeleteAccount)
		r.Post("/add", a.handleCreateAccount)
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	}
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"message": msg})
}

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads one JSON document. Unknown fields are tolerated because
// clients echo whole account views back on update.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeStatus picks 413 for oversized bodies and 400 otherwise.
func decodeStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
