package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cinemaws.org/internal/obs"
)

// Service coordinates the credential store and the side-store. It is the
// only component that knows an account is three records.
type Service struct {
	creds    CredentialStore
	side     SideStore
	tokens   TokenIssuer
	now      func() time.Time
	hashCost int
	admin    string
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHashCost sets the bcrypt cost used when registering passwords.
func WithHashCost(cost int) Option {
	return func(s *Service) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("identity: bcrypt cost %d out of range", cost)
		}
		s.hashCost = cost
		return nil
	}
}

// WithAdminUsername names the single staff-admin account.
func WithAdminUsername(username string) Option {
	return func(s *Service) error {
		s.admin = strings.TrimSpace(username)
		return nil
	}
}

// NewService constructs Service over the two stores and a token issuer.
func NewService(creds CredentialStore, side SideStore, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if creds == nil || side == nil {
		return nil, errors.New("identity: credential store and side-store are required")
	}
	svc := &Service{
		creds:    creds,
		side:     side,
		tokens:   tokens,
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// IsAdmin reports whether username is the configured staff-admin.
func (s *Service) IsAdmin(username string) bool {
	return s.admin != "" && strings.EqualFold(strings.TrimSpace(username), s.admin)
}

// RegisterCredentials activates an administrator-provisioned account by
// setting its password. It never creates an account.
func (s *Service) RegisterCredentials(ctx context.Context, username, password string) (acct Account, err error) {
	defer func() { obs.ObserveIdentityOp("register", err) }()

	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, invalidInput("username is required")
	}
	if password == "" {
		return Account{}, invalidInput("password is required")
	}
	existing, err := s.creds.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrNotProvisioned
	}
	if err != nil {
		return Account{}, fmt.Errorf("register: find account: %w", err)
	}
	hash, err := HashPassword(password, s.hashCost)
	if err != nil {
		return Account{}, fmt.Errorf("register: hash password: %w", err)
	}
	acct, err = s.creds.Update(ctx, existing.ID, AccountPatch{PasswordHash: &hash})
	if err != nil {
		return Account{}, fmt.Errorf("register: set password: %w", err)
	}
	s.bumpEpoch(ctx, acct.ID)
	return acct, nil
}

// bumpEpoch invalidates sessions issued before a password change. The
// password is already stored, so failures are logged rather than returned.
func (s *Service) bumpEpoch(ctx context.Context, id string) {
	profile, err := s.side.FindProfile(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err == nil {
		profile.TokenEpoch++
		err = s.side.UpsertProfile(ctx, profile)
	}
	if err != nil {
		obs.Logger().Warn("token epoch bump failed", "account_id", id, "error", err.Error())
	}
}

// Authenticate verifies username and password and issues a session token
// whose lifetime is the profile's session timeout.
func (s *Service) Authenticate(ctx context.Context, username, password string) (signIn SignIn, err error) {
	defer func() { obs.ObserveIdentityOp("authenticate", err) }()

	if s.tokens == nil {
		return SignIn{}, errors.New("identity: token issuer is not configured")
	}
	acct, err := s.creds.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SignIn{}, ErrNotFound
		}
		return SignIn{}, fmt.Errorf("authenticate: find account: %w", err)
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		return SignIn{}, err
	}
	profile, grant, err := s.sideRows(ctx, acct.ID)
	if err != nil {
		return SignIn{}, fmt.Errorf("authenticate: %w", err)
	}
	if profile == nil {
		return SignIn{}, &ConsistencyError{Op: "authenticate", AccountID: acct.ID, Steps: []string{"profile missing"}}
	}
	if err := validateSessionTimeout(profile.SessionTimeoutMinutes); err != nil {
		return SignIn{}, fmt.Errorf("authenticate: stored profile: %w", err)
	}
	ttl := time.Duration(profile.SessionTimeoutMinutes) * time.Minute
	token, issuedAt, expiresAt, err := s.tokens.Issue(acct.ID, ttl, profile.TokenEpoch)
	if err != nil {
		return SignIn{}, fmt.Errorf("authenticate: issue token: %w", err)
	}
	return SignIn{
		View:      composeView(acct, profile, grant),
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// ComposeView joins one account with its profile and grant.
func (s *Service) ComposeView(ctx context.Context, id string) (View, error) {
	acct, err := s.creds.FindByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	profile, grant, err := s.sideRows(ctx, id)
	if err != nil {
		return View{}, err
	}
	return composeView(acct, profile, grant), nil
}

// ListAccounts joins every account with its side rows. Side rows without an
// account are never surfaced.
func (s *Service) ListAccounts(ctx context.Context) (views []View, err error) {
	defer func() { obs.ObserveIdentityOp("list", err) }()

	accounts, err := s.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	profiles, grants, err := s.sideIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	views = make([]View, 0, len(accounts))
	for _, acct := range accounts {
		var (
			p *Profile
			g *Grant
		)
		if v, ok := profiles[acct.ID]; ok {
			p = &v
		}
		if v, ok := grants[acct.ID]; ok {
			g = &v
		}
		views = append(views, composeView(acct, p, g))
	}
	return views, nil
}

// CreateAccount provisions an account with an empty password plus its
// profile and grant. A failed side write undoes the earlier writes.
func (s *Service) CreateAccount(ctx context.Context, req NewAccount) (view View, err error) {
	defer func() { obs.ObserveIdentityOp("create", err) }()

	req.Username = strings.TrimSpace(req.Username)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	perms, err := validateProfileFields(req.Username, req.FirstName, req.LastName, req.SessionTimeoutMinutes, req.Permissions)
	if err != nil {
		return View{}, err
	}

	acct, err := s.creds.Create(ctx, req.Username, "")
	if err != nil {
		return View{}, fmt.Errorf("create account: %w", err)
	}
	var undo undoLog
	undo.push("delete account", func(ctx context.Context) error {
		_, err := s.creds.Delete(ctx, acct.ID)
		return err
	})

	profile := Profile{
		ID:                    acct.ID,
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		CreatedDate:           s.now().UTC(),
		SessionTimeoutMinutes: req.SessionTimeoutMinutes,
	}
	if err := s.side.UpsertProfile(ctx, profile); err != nil {
		return View{}, undo.rollback(ctx, "create account", acct.ID, fmt.Errorf("create account: save profile: %w", err))
	}
	undo.push("delete profile", func(ctx context.Context) error {
		return s.side.DeleteProfile(ctx, acct.ID)
	})

	grant := Grant{ID: acct.ID, Permissions: perms}
	if err := s.side.UpsertGrant(ctx, grant); err != nil {
		return View{}, undo.rollback(ctx, "create account", acct.ID, fmt.Errorf("create account: save grant: %w", err))
	}
	return composeView(acct, &profile, &grant), nil
}

// UpdateAccount changes the username, profile and grant of an account. On a
// failed step the steps already applied are restored from snapshots.
func (s *Service) UpdateAccount(ctx context.Context, req AccountUpdate) (view View, err error) {
	defer func() { obs.ObserveIdentityOp("update", err) }()

	req.ID = strings.TrimSpace(req.ID)
	req.Username = strings.TrimSpace(req.Username)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.ID == "" {
		return View{}, invalidInput("account id is required")
	}
	perms, err := validateProfileFields(req.Username, req.FirstName, req.LastName, req.SessionTimeoutMinutes, req.Permissions)
	if err != nil {
		return View{}, err
	}

	prevAcct, err := s.creds.FindByID(ctx, req.ID)
	if err != nil {
		return View{}, fmt.Errorf("update account: %w", err)
	}
	prevProfile, _, err := s.sideRows(ctx, req.ID)
	if err != nil {
		return View{}, fmt.Errorf("update account: %w", err)
	}

	var undo undoLog
	acct := prevAcct
	if req.Username != prevAcct.Username {
		acct, err = s.creds.Update(ctx, req.ID, AccountPatch{Username: &req.Username})
		if err != nil {
			return View{}, fmt.Errorf("update account: rename: %w", err)
		}
		undo.push("restore username", func(ctx context.Context) error {
			_, err := s.creds.Update(ctx, req.ID, AccountPatch{Username: &prevAcct.Username})
			return err
		})
	}

	profile := Profile{
		ID:                    req.ID,
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		CreatedDate:           req.CreatedDate.UTC(),
		SessionTimeoutMinutes: req.SessionTimeoutMinutes,
	}
	if prevProfile != nil {
		profile.TokenEpoch = prevProfile.TokenEpoch
		if req.CreatedDate.IsZero() {
			profile.CreatedDate = prevProfile.CreatedDate
		}
	}
	if profile.CreatedDate.IsZero() {
		profile.CreatedDate = s.now().UTC()
	}
	if err := s.side.UpsertProfile(ctx, profile); err != nil {
		return View{}, undo.rollback(ctx, "update account", req.ID, fmt.Errorf("update account: save profile: %w", err))
	}
	undo.push("restore profile", func(ctx context.Context) error {
		if prevProfile == nil {
			return s.side.DeleteProfile(ctx, req.ID)
		}
		return s.side.UpsertProfile(ctx, *prevProfile)
	})

	grant := Grant{ID: req.ID, Permissions: perms}
	if err := s.side.UpsertGrant(ctx, grant); err != nil {
		return View{}, undo.rollback(ctx, "update account", req.ID, fmt.Errorf("update account: save grant: %w", err))
	}
	return composeView(acct, &profile, &grant), nil
}

// DeleteAccount removes the credential, then the profile, then the grant.
// Once the credential is gone the remaining deletions always run; any that
// fail are reported as a ConsistencyError.
func (s *Service) DeleteAccount(ctx context.Context, id string) (err error) {
	defer func() { obs.ObserveIdentityOp("delete", err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return invalidInput("account id is required")
	}
	if _, err := s.creds.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	var (
		failed []string
		errs   []error
	)
	if err := s.side.DeleteProfile(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		failed = append(failed, "delete profile")
		errs = append(errs, err)
	}
	if err := s.side.DeleteGrant(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		failed = append(failed, "delete grant")
		errs = append(errs, err)
	}
	if len(failed) > 0 {
		obs.Logger().Error("account deleted with orphan side rows", "account_id", id, "steps", failed)
		return &ConsistencyError{Op: "delete account", AccountID: id, Steps: failed, Err: errors.Join(errs...)}
	}
	return nil
}

// CheckSession rejects tokens whose account lost its profile or whose epoch
// is behind the stored one.
func (s *Service) CheckSession(ctx context.Context, accountID string, epoch int) error {
	profile, err := s.side.FindProfile(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return ErrSessionRevoked
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if profile.TokenEpoch != epoch {
		return ErrSessionRevoked
	}
	return nil
}

func (s *Service) sideRows(ctx context.Context, id string) (*Profile, *Grant, error) {
	var (
		profile *Profile
		grant   *Grant
	)
	p, err := s.side.FindProfile(ctx, id)
	switch {
	case err == nil:
		profile = &p
	case !errors.Is(err, ErrNotFound):
		return nil, nil, fmt.Errorf("find profile: %w", err)
	}
	g, err := s.side.FindGrant(ctx, id)
	switch {
	case err == nil:
		grant = &g
	case !errors.Is(err, ErrNotFound):
		return nil, nil, fmt.Errorf("find grant: %w", err)
	}
	return profile, grant, nil
}

func (s *Service) sideIndex(ctx context.Context) (map[string]Profile, map[string]Grant, error) {
	profiles, err := s.side.ListProfiles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list profiles: %w", err)
	}
	grants, err := s.side.ListGrants(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list grants: %w", err)
	}
	pi := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		pi[p.ID] = p
	}
	gi := make(map[string]Grant, len(grants))
	for _, g := range grants {
		gi[g.ID] = g
	}
	return pi, gi, nil
}

func composeView(acct Account, profile *Profile, grant *Grant) View {
	v := View{
		ID:          acct.ID,
		Username:    acct.Username,
		Registered:  acct.Registered(),
		Permissions: []string{},
	}
	if profile != nil {
		v.FirstName = profile.FirstName
		v.LastName = profile.LastName
		v.CreatedDate = profile.CreatedDate
		v.SessionTimeoutMinutes = profile.SessionTimeoutMinutes
	} else {
		v.Incomplete = true
	}
	if grant != nil {
		v.Permissions = append(v.Permissions, grant.Permissions...)
	} else {
		v.Incomplete = true
	}
	return v
}

type undoStep struct {
	name string
	fn   func(context.Context) error
}

type undoLog struct {
	steps []undoStep
}

func (u *undoLog) push(name string, fn func(context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// rollback runs the recorded steps newest first. cause is returned as is when
// every step succeeds.
func (u *undoLog) rollback(ctx context.Context, op, id string, cause error) error {
	var (
		failed []string
		errs   = []error{cause}
	)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			failed = append(failed, step.name)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	if len(failed) == 0 {
		obs.Logger().Warn("identity write rolled back", "op", op, "account_id", id, "cause", cause.Error())
		return cause
	}
	obs.Logger().Error("identity rollback incomplete", "op", op, "account_id", id, "steps", failed)
	return &ConsistencyError{Op: op, AccountID: id, Steps: failed, Err: errors.Join(errs...)}
}
