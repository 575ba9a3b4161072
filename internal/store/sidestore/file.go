package sidestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"cinemaws.org/internal/identity"
)

const (
	ProfilesFile = "profiles.json"
	GrantsFile   = "grants.json"
)

var _ identity.SideStore = (*FileStore)(nil)

type profileDoc struct {
	ID                    string    `json:"id"`
	FirstName             string    `json:"firstName"`
	LastName              string    `json:"lastName"`
	CreatedDate           time.Time `json:"createdDate"`
	SessionTimeoutMinutes int       `json:"sessionTimeoutMinutes"`
	TokenEpoch            int       `json:"tokenEpoch"`
}

type grantDoc struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}

type profilesDocument struct {
	Profiles []profileDoc `json:"profiles"`
}

type grantsDocument struct {
	Grants []grantDoc `json:"grants"`
}

// FileStore keeps profiles and grants as two whole JSON documents in dir.
// Every mutation rewrites its document through a temp file and rename, and
// read-modify-write cycles are serialized within the process.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// OpenFile prepares dir, creating empty documents when absent.
func OpenFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	s := &FileStore{dir: dir}
	for name, empty := range map[string]any{
		ProfilesFile: profilesDocument{Profiles: []profileDoc{}},
		GrantsFile:   grantsDocument{Grants: []grantDoc{}},
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, fs.ErrNotExist) {
			if err := writeJSONFile(filepath.Join(dir, name), empty); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Ping(context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) FindProfile(ctx context.Context, id string) (identity.Profile, error) {
	if err := ctx.Err(); err != nil {
		return identity.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readProfiles()
	if err != nil {
		return identity.Profile{}, err
	}
	for _, p := range doc.Profiles {
		if p.ID == id {
			return p.toProfile(), nil
		}
	}
	return identity.Profile{}, identity.ErrNotFound
}

func (s *FileStore) UpsertProfile(ctx context.Context, p identity.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("session timeout must be greater than zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readProfiles()
	if err != nil {
		return err
	}
	rec := profileFrom(p)
	replaced := false
	for i := range doc.Profiles {
		if doc.Profiles[i].ID == p.ID {
			doc.Profiles[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Profiles = append(doc.Profiles, rec)
	}
	return writeJSONFile(s.path(ProfilesFile), doc)
}

func (s *FileStore) DeleteProfile(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readProfiles()
	if err != nil {
		return err
	}
	for i := range doc.Profiles {
		if doc.Profiles[i].ID == id {
			doc.Profiles = append(doc.Profiles[:i], doc.Profiles[i+1:]...)
			return writeJSONFile(s.path(ProfilesFile), doc)
		}
	}
	return identity.ErrNotFound
}

func (s *FileStore) ListProfiles(ctx context.Context) ([]identity.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readProfiles()
	if err != nil {
		return nil, err
	}
	res := make([]identity.Profile, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		res = append(res, p.toProfile())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *FileStore) FindGrant(ctx context.Context, id string) (identity.Grant, error) {
	if err := ctx.Err(); err != nil {
		return identity.Grant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readGrants()
	if err != nil {
		return identity.Grant{}, err
	}
	for _, g := range doc.Grants {
		if g.ID == id {
			return g.toGrant(), nil
		}
	}
	return identity.Grant{}, identity.ErrNotFound
}

func (s *FileStore) UpsertGrant(ctx context.Context, g identity.Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.ID == "" {
		return fmt.Errorf("grant id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readGrants()
	if err != nil {
		return err
	}
	rec := grantDoc{ID: g.ID, Permissions: append([]string{}, g.Permissions...)}
	replaced := false
	for i := range doc.Grants {
		if doc.Grants[i].ID == g.ID {
			doc.Grants[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Grants = append(doc.Grants, rec)
	}
	return writeJSONFile(s.path(GrantsFile), doc)
}

func (s *FileStore) DeleteGrant(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readGrants()
	if err != nil {
		return err
	}
	for i := range doc.Grants {
		if doc.Grants[i].ID == id {
			doc.Grants = append(doc.Grants[:i], doc.Grants[i+1:]...)
			return writeJSONFile(s.path(GrantsFile), doc)
		}
	}
	return identity.ErrNotFound
}

func (s *FileStore) ListGrants(ctx context.Context) ([]identity.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readGrants()
	if err != nil {
		return nil, err
	}
	res := make([]identity.Grant, 0, len(doc.Grants))
	for _, g := range doc.Grants {
		res = append(res, g.toGrant())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileStore) readProfiles() (profilesDocument, error) {
	var doc profilesDocument
	err := readJSONFile(s.path(ProfilesFile), &doc)
	return doc, err
}

func (s *FileStore) readGrants() (grantsDocument, error) {
	var doc grantsDocument
	err := readJSONFile(s.path(GrantsFile), &doc)
	return doc, err
}

func profileFrom(p identity.Profile) profileDoc {
	return profileDoc{
		ID:                    p.ID,
		FirstName:             p.FirstName,
		LastName:              p.LastName,
		CreatedDate:           p.CreatedDate.UTC(),
		SessionTimeoutMinutes: p.SessionTimeoutMinutes,
		TokenEpoch:            p.TokenEpoch,
	}
}

func (d profileDoc) toProfile() identity.Profile {
	return identity.Profile{
		ID:                    d.ID,
		FirstName:             d.FirstName,
		LastName:              d.LastName,
		CreatedDate:           d.CreatedDate.UTC(),
		SessionTimeoutMinutes: d.SessionTimeoutMinutes,
		TokenEpoch:            d.TokenEpoch,
	}
}

func (d grantDoc) toGrant() identity.Grant {
	perms := append([]string{}, d.Permissions...)
	return identity.Grant{ID: d.ID, Permissions: perms}
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONFile replaces path atomically.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
