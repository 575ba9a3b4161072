package sidestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cinemaws.org/internal/identity"
)

// Legacy document file names written by the original service.
const (
	LegacyUsersFile       = "Users.json"
	LegacyPermissionsFile = "Permissions.json"
)

type legacyUser struct {
	ID             string        `json:"Id"`
	FirstName      string        `json:"FirstName"`
	LastName       string        `json:"LastName"`
	CreatedDate    legacyDate    `json:"CreatedDate"`
	SessionTimeout legacyMinutes `json:"SessionTimeout"`
}

type legacyPermission struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}

// legacyMinutes accepts a whole JSON number or a numeric string.
type legacyMinutes int

func (m *legacyMinutes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	n, err := identity.ParseMinutes(strings.Trim(string(b), `"`))
	if err != nil {
		return fmt.Errorf("session timeout: %w", err)
	}
	*m = legacyMinutes(n)
	return nil
}

// legacyDate accepts RFC 3339 timestamps and the bare dates the edit form
// stored.
type legacyDate time.Time

func (d *legacyDate) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = legacyDate{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("created date: %w", err)
	}
	v, err := identity.ParseCreatedDate(raw)
	if err != nil {
		return fmt.Errorf("created date: %w", err)
	}
	*d = legacyDate(v)
	return nil
}

// ReadLegacy parses the Users.json and Permissions.json documents in dir.
// Permission sets are normalized; unknown permission strings are rejected.
func ReadLegacy(dir string) ([]identity.Profile, []identity.Grant, error) {
	var users struct {
		Users []legacyUser `json:"users"`
	}
	if err := readJSONFile(filepath.Join(dir, LegacyUsersFile), &users); err != nil {
		return nil, nil, err
	}
	var perms struct {
		Permissions []legacyPermission `json:"permissions"`
	}
	if err := readJSONFile(filepath.Join(dir, LegacyPermissionsFile), &perms); err != nil {
		return nil, nil, err
	}

	profiles := make([]identity.Profile, 0, len(users.Users))
	for _, u := range users.Users {
		if u.ID == "" {
			return nil, nil, fmt.Errorf("%s: user without Id", LegacyUsersFile)
		}
		if u.SessionTimeout <= 0 {
			return nil, nil, fmt.Errorf("%s: user %s has no session timeout", LegacyUsersFile, u.ID)
		}
		profiles = append(profiles, identity.Profile{
			ID:                    u.ID,
			FirstName:             u.FirstName,
			LastName:              u.LastName,
			CreatedDate:           time.Time(u.CreatedDate),
			SessionTimeoutMinutes: int(u.SessionTimeout),
		})
	}

	grants := make([]identity.Grant, 0, len(perms.Permissions))
	for _, p := range perms.Permissions {
		if p.ID == "" {
			return nil, nil, fmt.Errorf("%s: entry without id", LegacyPermissionsFile)
		}
		normalized, err := identity.NormalizePermissions(p.Permissions)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: account %s: %w", LegacyPermissionsFile, p.ID, err)
		}
		grants = append(grants, identity.Grant{ID: p.ID, Permissions: normalized})
	}
	return profiles, grants, nil
}

// Load upserts profiles and grants into dst one record at a time.
func Load(ctx context.Context, dst identity.SideStore, profiles []identity.Profile, grants []identity.Grant) error {
	for _, p := range profiles {
		if err := dst.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("load profile %s: %w", p.ID, err)
		}
	}
	for _, g := range grants {
		if err := dst.UpsertGrant(ctx, g); err != nil {
			return fmt.Errorf("load grant %s: %w", g.ID, err)
		}
	}
	return nil
}

// Export writes every profile and grant in src to dir using the flat
// document layout read by FileStore.
func Export(ctx context.Context, src identity.SideStore, dir string) error {
	profiles, err := src.ListProfiles(ctx)
	if err != nil {
		return err
	}
	grants, err := src.ListGrants(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	pdoc := profilesDocument{Profiles: make([]profileDoc, 0, len(profiles))}
	for _, p := range profiles {
		pdoc.Profiles = append(pdoc.Profiles, profileFrom(p))
	}
	gdoc := grantsDocument{Grants: make([]grantDoc, 0, len(grants))}
	for _, g := range grants {
		perms := g.Permissions
		if perms == nil {
			perms = []string{}
		}
		gdoc.Grants = append(gdoc.Grants, grantDoc{ID: g.ID, Permissions: perms})
	}

	if err := writeJSONFile(filepath.Join(dir, ProfilesFile), pdoc); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(dir, GrantsFile), gdoc)
}

// Open selects the implementation named by driver ("sqlite" or "file").
func Open(ctx context.Context, driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		s, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown side-store driver %q", driver)
	}
}

// Store is a SideStore that can be health-checked and closed.
type Store interface {
	identity.SideStore
	Ping(ctx context.Context) error
	Close() error
}
