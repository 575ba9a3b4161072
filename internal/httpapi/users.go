package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cinemaws.org/internal/audit"
	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/obs"
)

const (
	msgUserNotFound    = "User not found"
	msgWrongPassword   = "Wrong password"
	msgNotProvisioned  = "User does not exist, please contact admin"
	msgIncomplete      = "User profile is incomplete, please contact admin"
	msgSignInFailed    = "Error signing in"
	msgUserCreated     = "User created successfully"
	msgUserUpdated     = "User updated successfully"
	msgUserDeleted     = "User deleted successfully"
	msgErrorCreating   = "Error creating user"
	msgErrorUpdating   = "Error updating user"
	msgErrorDeleting   = "Error deleting user"
	msgErrorRegistered = "Error registering user"
	msgErrorListing    = "Error listing users"
)

// flexInt accepts a whole JSON number or a numeric string; the admin UI
// sends form values as strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	raw := strings.TrimSpace(strings.Trim(string(b), `"`))
	if raw == "" {
		*n = 0
		return nil
	}
	v, err := identity.ParseMinutes(raw)
	if err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

// flexTime accepts RFC 3339, a bare date, or an empty string.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var raw string
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = flexTime{}
		return nil
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := identity.ParseCreatedDate(raw)
	if err != nil {
		return err
	}
	*t = flexTime(v)
	return nil
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type createAccountRequest struct {
	Username       string   `json:"Username"`
	FirstName      string   `json:"FirstName"`
	LastName       string   `json:"LastName"`
	SessionTimeout flexInt  `json:"SessionTimeout"`
	Permissions    []string `json:"permissions"`
}

type updateAccountRequest struct {
	ID             string   `json:"_id"`
	Username       string   `json:"Username"`
	FirstName      string   `json:"FirstName"`
	LastName       string   `json:"LastName"`
	CreatedDate    flexTime `json:"CreatedDate"`
	SessionTimeout flexInt  `json:"SessionTimeout"`
	Permissions    []string `json:"permissions"`
}

type accountJSON struct {
	ID             string     `json:"_id"`
	Username       string     `json:"Username"`
	FirstName      string     `json:"FirstName"`
	LastName       string     `json:"LastName"`
	CreatedDate    *time.Time `json:"CreatedDate,omitempty"`
	SessionTimeout int        `json:"SessionTimeout"`
	Permissions    []string   `json:"permissions"`
	Registered     bool       `json:"registered"`
	Incomplete     bool       `json:"incomplete"`
}

type signInJSON struct {
	UserName    string     `json:"userName"`
	FullName    string     `json:"fullName"`
	Created     *time.Time `json:"created,omitempty"`
	Session     int        `json:"session"`
	ID          string     `json:"id"`
	Permissions []string   `json:"permissions"`
	Token       string     `json:"token"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	IsAdmin     bool       `json:"isAdmin"`
	Incomplete  bool       `json:"incomplete"`
}

type registeredJSON struct {
	ID         string `json:"_id"`
	Username   string `json:"Username"`
	Registered bool   `json:"registered"`
}

func toAccountJSON(v identity.View) accountJSON {
	out := accountJSON{
		ID:             v.ID,
		Username:       v.Username,
		FirstName:      v.FirstName,
		LastName:       v.LastName,
		SessionTimeout: v.SessionTimeoutMinutes,
		Permissions:    v.Permissions,
		Registered:     v.Registered,
		Incomplete:     v.Incomplete,
	}
	if out.Permissions == nil {
		out.Permissions = []string{}
	}
	if !v.CreatedDate.IsZero() {
		created := v.CreatedDate
		out.CreatedDate = &created
	}
	return out
}

func loginFailure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"user": map[string]any{"success": false, "message": msg},
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, decodeStatus(err), map[string]any{
			"user": map[string]any{"success": false, "message": err.Error()},
		})
		return
	}

	signIn, err := a.identity.Authenticate(r.Context(), req.Name, req.Password)
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, identity.ErrNotFound):
			msg = msgUserNotFound
		case errors.Is(err, identity.ErrInvalidCredentials):
			msg = msgWrongPassword
		case errors.Is(err, identity.ErrConsistencyGap):
			msg = msgIncomplete
			a.reportGap(r, "sign_in", err)
		default:
			msg = msgSignInFailed
			obs.Logger().Error("sign-in failed", "error", err.Error())
		}
		_ = audit.LogEvent(r.Context(), audit.EventSignInFailed, map[string]any{
			"username": req.Name,
			"reason":   msg,
		})
		loginFailure(w, msg)
		return
	}

	v := signIn.View
	body := signInJSON{
		UserName:    v.Username,
		FullName:    v.FullName(),
		Session:     v.SessionTimeoutMinutes,
		ID:          v.ID,
		Permissions: v.Permissions,
		Token:       signIn.Token,
		ExpiresAt:   signIn.ExpiresAt.UTC(),
		IsAdmin:     a.identity.IsAdmin(v.Username),
		Incomplete:  v.Incomplete,
	}
	if body.Permissions == nil {
		body.Permissions = []string{}
	}
	if !v.CreatedDate.IsZero() {
		created := v.CreatedDate
		body.Created = &created
	}
	ctx := identity.ContextWithAccountID(r.Context(), v.ID)
	_ = audit.LogEvent(ctx, audit.EventSignIn, map[string]any{
		"username":   v.Username,
		"expires_at": body.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": body})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, decodeStatus(err), map[string]any{"message": err.Error(), "user": nil})
		return
	}
	acct, err := a.identity.RegisterCredentials(r.Context(), req.Name, req.Password)
	if err != nil {
		msg := msgErrorRegistered
		switch {
		case errors.Is(err, identity.ErrNotProvisioned):
			msg = msgNotProvisioned
		case errors.Is(err, identity.ErrInvalidInput):
			msg = inputMessage(err)
		default:
			obs.Logger().Error("register failed", "error", err.Error())
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": msg, "user": nil})
		return
	}
	ctx := identity.ContextWithAccountID(r.Context(), acct.ID)
	_ = audit.LogEvent(ctx, audit.EventRegister, map[string]any{"username": acct.Username})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msgUserCreated,
		"user":    registeredJSON{ID: acct.ID, Username: acct.Username, Registered: acct.Registered()},
	})
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	views, err := a.identity.ListAccounts(r.Context())
	if err != nil {
		obs.Logger().Error("list accounts failed", "error", err.Error())
		writeMessage(w, http.StatusBadRequest, msgErrorListing)
		return
	}
	out := make([]accountJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toAccountJSON(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, decodeStatus(err), map[string]any{"message": msgErrorCreating, "error": err.Error()})
		return
	}
	view, err := a.identity.CreateAccount(r.Context(), identity.NewAccount{
		Username:              req.Username,
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		SessionTimeoutMinutes: int(req.SessionTimeout),
		Permissions:           req.Permissions,
	})
	if err != nil {
		a.writeMutationError(w, r, "create", msgErrorCreating, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAccountCreate, map[string]any{
		"target":      view.ID,
		"username":    view.Username,
		"permissions": view.Permissions,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msgUserCreated,
		"user":    toAccountJSON(view),
	})
}

func (a *API) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, decodeStatus(err), map[string]any{"message": msgErrorUpdating, "error": err.Error()})
		return
	}
	view, err := a.identity.UpdateAccount(r.Context(), identity.AccountUpdate{
		ID:                    req.ID,
		Username:              req.Username,
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		CreatedDate:           time.Time(req.CreatedDate),
		SessionTimeoutMinutes: int(req.SessionTimeout),
		Permissions:           req.Permissions,
	})
	if err != nil {
		a.writeMutationError(w, r, "update", msgErrorUpdating, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAccountUpdate, map[string]any{
		"target":      view.ID,
		"username":    view.Username,
		"permissions": view.Permissions,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msgUserUpdated,
		"user":    toAccountJSON(view),
	})
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.identity.DeleteAccount(r.Context(), id); err != nil {
		a.writeMutationError(w, r, "delete", msgErrorDeleting, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAccountDelete, map[string]any{"target": id})
	writeMessage(w, http.StatusOK, msgUserDeleted)
}

// writeMutationError answers 400 with the operation message. Validation
// failures carry their detail; consistency gaps are audited.
func (a *API) writeMutationError(w http.ResponseWriter, r *http.Request, op, msg string, err error) {
	body := map[string]any{"message": msg}
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		body["error"] = inputMessage(err)
	case errors.Is(err, identity.ErrNotFound):
		body["error"] = msgUserNotFound
	case errors.Is(err, identity.ErrAlreadyExists):
		body["error"] = "Username already exists"
	case errors.Is(err, identity.ErrConsistencyGap):
		a.reportGap(r, op, err)
	default:
		obs.Logger().Error("account "+op+" failed", "error", err.Error())
	}
	writeJSON(w, http.StatusBadRequest, body)
}

func (a *API) reportGap(r *http.Request, op string, err error) {
	fields := map[string]any{"op": op, "error": err.Error()}
	var cerr *identity.ConsistencyError
	if errors.As(err, &cerr) {
		fields["target"] = cerr.AccountID
		fields["steps"] = cerr.Steps
	}
	_ = audit.LogEvent(r.Context(), audit.EventConsistencyGap, fields)
}

// inputMessage strips the sentinel prefix from a validation error.
func inputMessage(err error) string {
	msg := err.Error()
	prefix := identity.ErrInvalidInput.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		msg = msg[i+len(prefix):]
	}
	return msg
}
