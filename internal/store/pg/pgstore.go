package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/ids"
)

const uniqueViolation = "23505"

const accountColumns = `id, username, password_hash, created_at, updated_at`

var _ identity.CredentialStore = (*Store)(nil)

// Store is the credential store over PostgreSQL. Every operation touches one
// row and is atomic on its own.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects with the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("pg: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Create(ctx context.Context, username, passwordHash string) (identity.Account, error) {
	now := s.now().UTC()
	acct := identity.Account{
		ID:           ids.NewAt(now),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, username, password_hash, created_at, updated_at) values($1,$2,$3,$4,$5)`,
		acct.ID, acct.Username, acct.PasswordHash, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return identity.Account{}, mapError(err)
	}
	return acct, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (identity.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where username=$1`, username)
	return scanAccount(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (identity.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

// Update applies the non-nil patch fields in one statement.
func (s *Store) Update(ctx context.Context, id string, patch identity.AccountPatch) (identity.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set username = coalesce($2, username),
		    password_hash = coalesce($3, password_hash),
		    updated_at = $4
		where id = $1
		returning `+accountColumns,
		id, nullString(patch.Username), nullString(patch.PasswordHash), s.now().UTC(),
	)
	acct, err := scanAccount(row)
	if err != nil {
		return identity.Account{}, mapError(err)
	}
	return acct, nil
}

// Delete removes the row and returns what was deleted.
func (s *Store) Delete(ctx context.Context, id string) (identity.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`delete from accounts where id=$1 returning `+accountColumns, id)
	return scanAccount(row)
}

func (s *Store) List(ctx context.Context) ([]identity.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by created_at asc, id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []identity.Account
	for rows.Next() {
		var a identity.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (identity.Account, error) {
	var a identity.Account
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Account{}, identity.ErrNotFound
		}
		return identity.Account{}, err
	}
	return a, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: username already taken", identity.ErrAlreadyExists)
	}
	return err
}
