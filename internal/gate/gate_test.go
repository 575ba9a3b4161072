package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/session"
)

const bootstrapSecret = "daily-login-secret"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type stubRevoker struct {
	fn func(context.Context, string, int) error
}

func (s stubRevoker) CheckSession(ctx context.Context, id string, epoch int) error {
	return s.fn(ctx, id, epoch)
}

func newIssuer(t *testing.T, clock *fakeClock) *session.Issuer {
	t.Helper()
	iss, err := session.NewIssuer("gate-secret", session.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

type result struct {
	code    int
	message string
	account string
	called  bool
}

func serve(t *testing.T, g *Gate, header string) result {
	t.Helper()
	var res result
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.called = true
		res.account, _ = identity.AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	res.code = rr.Code
	if rr.Code != http.StatusOK {
		var body struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode rejection: %v", err)
		}
		if body.Success {
			t.Fatalf("rejection must carry success=false")
		}
		res.message = body.Message
	}
	return res
}

func TestMissingCredentialIsUnauthorized(t *testing.T) {
	g := New(bootstrapSecret, newIssuer(t, &fakeClock{t: time.Now()}))
	res := serve(t, g, "")
	if res.code != http.StatusUnauthorized || res.message != "Unauthorized" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.called {
		t.Fatal("handler must not run")
	}
}

func TestBootstrapSecretAdmitted(t *testing.T) {
	g := New(bootstrapSecret, newIssuer(t, &fakeClock{t: time.Now()}))
	for _, header := range []string{bootstrapSecret, "Bearer " + bootstrapSecret} {
		res := serve(t, g, header)
		if res.code != http.StatusOK || !res.called {
			t.Fatalf("bootstrap %q not admitted: %+v", header, res)
		}
		if res.account != "" {
			t.Fatalf("bootstrap admission must not carry an account: %q", res.account)
		}
	}
}

func TestBootstrapAdmittedEvenWithRevoker(t *testing.T) {
	revoker := stubRevoker{fn: func(context.Context, string, int) error {
		t.Fatal("revoker must not run for bootstrap")
		return nil
	}}
	g := New(bootstrapSecret, newIssuer(t, &fakeClock{t: time.Now()}), WithRevoker(revoker))
	if res := serve(t, g, bootstrapSecret); res.code != http.StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEmptyBootstrapAdmitsNothing(t *testing.T) {
	g := New("", newIssuer(t, &fakeClock{t: time.Now()}))
	if res := serve(t, g, "anything"); res.code != http.StatusUnauthorized {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSessionTokenLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	iss := newIssuer(t, clock)
	g := New(bootstrapSecret, iss)

	token, _, _, err := iss.Issue("A1", 30*time.Minute, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	res := serve(t, g, token)
	if res.code != http.StatusOK || res.account != "A1" {
		t.Fatalf("fresh token not admitted: %+v", res)
	}

	clock.t = clock.t.Add(31 * time.Minute)
	res = serve(t, g, token)
	if res.code != http.StatusUnauthorized || res.message != "session expired" {
		t.Fatalf("expected session expired, got %+v", res)
	}

	if res := serve(t, g, bootstrapSecret); res.code != http.StatusOK {
		t.Fatalf("bootstrap must still pass: %+v", res)
	}
}

func TestInvalidTokenCarriesVerifierMessage(t *testing.T) {
	g := New(bootstrapSecret, newIssuer(t, &fakeClock{t: time.Now()}))
	res := serve(t, g, "not-a-token")
	if res.code != http.StatusUnauthorized {
		t.Fatalf("unexpected code: %d", res.code)
	}
	if res.message == "" || res.message == "Unauthorized" || res.message == "session expired" {
		t.Fatalf("expected verifier message, got %q", res.message)
	}
}

func TestRevokerRejects(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	iss := newIssuer(t, clock)
	var gotID string
	var gotEpoch int
	revoker := stubRevoker{fn: func(_ context.Context, id string, epoch int) error {
		gotID, gotEpoch = id, epoch
		return identity.ErrSessionRevoked
	}}
	g := New(bootstrapSecret, iss, WithRevoker(revoker))

	token, _, _, err := iss.Issue("A1", time.Hour, 3)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	res := serve(t, g, token)
	if res.code != http.StatusUnauthorized || res.message != "session revoked" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotID != "A1" || gotEpoch != 3 {
		t.Fatalf("revoker saw %s/%d", gotID, gotEpoch)
	}
}

func TestRevokerFailureIsServerError(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	iss := newIssuer(t, clock)
	g := New(bootstrapSecret, iss, WithRevoker(stubRevoker{fn: func(context.Context, string, int) error {
		return errors.New("side-store down")
	}}))
	token, _, _, err := iss.Issue("A1", time.Hour, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res := serve(t, g, token); res.code != http.StatusInternalServerError {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPreflightPassesThrough(t *testing.T) {
	g := New(bootstrapSecret, nil)
	called := false
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodOptions, "/users", nil))
	if !called {
		t.Fatal("expected OPTIONS to reach the handler")
	}
}

func TestExtractCredential(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"   ":           "",
		"abc":           "abc",
		"Bearer abc":    "abc",
		"bearer   abc ": "abc",
		"Bearer":        "Bearer",
	}
	for in, want := range cases {
		if got := extractCredential(in); got != want {
			t.Fatalf("extractCredential(%q)=%q, want %q", in, got, want)
		}
	}
}
