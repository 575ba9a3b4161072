// Package sidestore keeps account profiles and permission grants outside the
// credential database.
package sidestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/migrate"
	"cinemaws.org/internal/store/sidestore/migrations"
)

const migrationsTable = "side_migrations"

var _ identity.SideStore = (*SQLiteStore)(nil)

// SQLiteStore persists one row per profile and per grant. Each write is a
// single-row upsert or delete.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(v time.Time) int64 {
	return v.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenSQLite opens the database at path and applies embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	m := migrate.NewManager(db, migrations.FS,
		migrate.WithDialect(migrate.SQLite),
		migrate.WithMigrationsTable(migrationsTable))
	if _, err := m.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) FindProfile(ctx context.Context, id string) (identity.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, created_date, session_timeout_minutes, token_epoch
		FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Profile{}, identity.ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p identity.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("session timeout must be greater than zero")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, first_name, last_name, created_date, session_timeout_minutes, token_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			created_date = excluded.created_date,
			session_timeout_minutes = excluded.session_timeout_minutes,
			token_epoch = excluded.token_epoch`,
		p.ID, p.FirstName, p.LastName, toMillis(p.CreatedDate), p.SessionTimeoutMinutes, p.TokenEpoch,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	return s.deleteRow(ctx, `DELETE FROM profiles WHERE id = ?`, id)
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]identity.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, created_date, session_timeout_minutes, token_epoch
		FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var res []identity.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) FindGrant(ctx context.Context, id string) (identity.Grant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, permissions FROM grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Grant{}, identity.ErrNotFound
	}
	return g, err
}

func (s *SQLiteStore) UpsertGrant(ctx context.Context, g identity.Grant) error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("grant id is required")
	}
	perms := g.Permissions
	if perms == nil {
		perms = []string{}
	}
	encoded, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grants (id, permissions) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET permissions = excluded.permissions`,
		g.ID, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteGrant(ctx context.Context, id string) error {
	return s.deleteRow(ctx, `DELETE FROM grants WHERE id = ?`, id)
}

func (s *SQLiteStore) ListGrants(ctx context.Context) ([]identity.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, permissions FROM grants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var res []identity.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) deleteRow(ctx context.Context, query, id string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (identity.Profile, error) {
	var (
		p       identity.Profile
		created int64
	)
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &created, &p.SessionTimeoutMinutes, &p.TokenEpoch); err != nil {
		return identity.Profile{}, err
	}
	p.CreatedDate = fromMillis(created)
	return p, nil
}

func scanGrant(row scanner) (identity.Grant, error) {
	var (
		g   identity.Grant
		raw string
	)
	if err := row.Scan(&g.ID, &raw); err != nil {
		return identity.Grant{}, err
	}
	if err := json.Unmarshal([]byte(raw), &g.Permissions); err != nil {
		return identity.Grant{}, fmt.Errorf("decode permissions for %s: %w", g.ID, err)
	}
	if g.Permissions == nil {
		g.Permissions = []string{}
	}
	return g, nil
}
