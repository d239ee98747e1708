// Package pgstore is a PostgreSQL [authcore.UserStore] built on pgx.
//
// MFA state is kept as flat columns (mfa_kind, mfa_secret, mfa_phone) and
// backup code hashes as a text[] so that consuming one code is a single
// conditional UPDATE.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
)

// Schema creates the tables the store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS authcore_users (
	id                     TEXT PRIMARY KEY,
	username               TEXT NOT NULL UNIQUE,
	email                  TEXT NOT NULL DEFAULT '',
	display_name           TEXT NOT NULL DEFAULT '',
	password_hash          TEXT NOT NULL,
	active                 BOOLEAN NOT NULL DEFAULT TRUE,
	roles                  TEXT[] NOT NULL DEFAULT '{}',
	mfa_enabled            BOOLEAN NOT NULL DEFAULT FALSE,
	mfa_kind               TEXT NOT NULL DEFAULT 'none',
	mfa_secret             TEXT NOT NULL DEFAULT '',
	mfa_phone              TEXT NOT NULL DEFAULT '',
	backup_code_hashes     TEXT[] NOT NULL DEFAULT '{}',
	last_login_at          TIMESTAMPTZ,
	last_mfa_validation_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS authcore_user_permissions (
	user_id    TEXT NOT NULL REFERENCES authcore_users(id) ON DELETE CASCADE,
	permission TEXT NOT NULL,
	PRIMARY KEY (user_id, permission)
);`

const userColumns = `id, username, email, display_name, password_hash, active, roles,
	mfa_enabled, mfa_kind, mfa_secret, mfa_phone, backup_code_hashes,
	last_login_at, last_mfa_validation_at`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements [authcore.UserStore].
type Store struct {
	db        DB
	hasher    authcore.PasswordHasher
	dummyHash string
}

// Connect opens a pool for url and pings it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func New(db DB, hasher authcore.PasswordHasher) (*Store, error) {
	if db == nil || hasher == nil {
		return nil, errors.New("pgstore: db and hasher are required")
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("pgstore: hash placeholder password: %w", err)
	}
	return &Store{db: db, hasher: hasher, dummyHash: dummy}, nil
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateUser inserts u with password hashed by the store's hasher.
func (s *Store) CreateUser(ctx context.Context, u authcore.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO authcore_users (id, username, email, display_name, password_hash, active, roles)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.DisplayName, hash, u.Active, roles,
	)
	return err
}

// GrantPermission is idempotent.
func (s *Store) GrantPermission(ctx context.Context, userID, permission string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO authcore_user_permissions (user_id, permission) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, userID, permission)
	return err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*authcore.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM authcore_users WHERE id = $1`, userID)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*authcore.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM authcore_users WHERE lower(username) = lower($1)`, username)
}

// ValidateCredentials verifies unknown usernames against a placeholder hash
// so they take as long as a wrong password.
func (s *Store) ValidateCredentials(ctx context.Context, username, password string) (*authcore.User, bool, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, authcore.ErrUserNotFound) {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, false, err
	}
	return u, true, nil
}

func (s *Store) GetPermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT permission FROM authcore_user_permissions WHERE user_id = $1 ORDER BY permission`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return s.update(ctx, `UPDATE authcore_users SET last_login_at = $2 WHERE id = $1`, userID, at)
}

func (s *Store) RecordMfaValidation(ctx context.Context, userID string, at time.Time) error {
	return s.update(ctx, `UPDATE authcore_users SET last_mfa_validation_at = $2 WHERE id = $1`, userID, at)
}

func (s *Store) EnableMfa(ctx context.Context, userID string, method authcore.MfaMethod, hashes []string) error {
	kind, secret, phone := flattenMethod(method)
	if hashes == nil {
		hashes = []string{}
	}
	return s.update(ctx,
		`UPDATE authcore_users
		 SET mfa_enabled = TRUE, mfa_kind = $2, mfa_secret = $3, mfa_phone = $4, backup_code_hashes = $5
		 WHERE id = $1`,
		userID, kind, secret, phone, hashes)
}

func (s *Store) DisableMfa(ctx context.Context, userID string) error {
	return s.update(ctx,
		`UPDATE authcore_users
		 SET mfa_enabled = FALSE, mfa_kind = 'none', mfa_secret = '', mfa_phone = '', backup_code_hashes = '{}'
		 WHERE id = $1`, userID)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	if hashes == nil {
		hashes = []string{}
	}
	return s.update(ctx, `UPDATE authcore_users SET backup_code_hashes = $2 WHERE id = $1`, userID, hashes)
}

// RemoveBackupCode only matches rows that still hold hash, so concurrent
// callers serialize on the row lock and exactly one sees a row affected.
func (s *Store) RemoveBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE authcore_users SET backup_code_hashes = array_remove(backup_code_hashes, $2)
		 WHERE id = $1 AND $2 = ANY(backup_code_hashes)`, userID, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) update(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) queryUser(ctx context.Context, sql string, arg string) (*authcore.User, error) {
	var (
		r       userRow
		lastMfa *time.Time
		lastLog *time.Time
	)
	err := s.db.QueryRow(ctx, sql, arg).Scan(
		&r.ID, &r.Username, &r.Email, &r.DisplayName, &r.PasswordHash, &r.Active, &r.Roles,
		&r.MfaEnabled, &r.MfaKind, &r.MfaSecret, &r.MfaPhone, &r.BackupCodeHashes,
		&lastLog, &lastMfa,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLog != nil {
		r.LastLoginAt = *lastLog
	}
	if lastMfa != nil {
		r.LastMfaValidationAt = *lastMfa
	}
	return r.toUser()
}

// userRow mirrors one authcore_users row.
type userRow struct {
	ID, Username, Email, DisplayName, PasswordHash string
	Active                                         bool
	Roles                                          []string
	MfaEnabled                                     bool
	MfaKind, MfaSecret, MfaPhone                   string
	BackupCodeHashes                               []string
	LastLoginAt, LastMfaValidationAt               time.Time
}

func (r userRow) toUser() (*authcore.User, error) {
	kind, ok := authcore.ParseMfaKind(r.MfaKind)
	if !ok {
		return nil, fmt.Errorf("user %s: unknown mfa kind %q", r.ID, r.MfaKind)
	}
	method, err := authcore.NewMfaMethod(kind, r.MfaSecret, r.MfaPhone)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", r.ID, err)
	}
	return &authcore.User{
		ID:                  r.ID,
		Username:            r.Username,
		Email:               r.Email,
		DisplayName:         r.DisplayName,
		PasswordHash:        r.PasswordHash,
		Active:              r.Active,
		MfaEnabled:          r.MfaEnabled && method != nil,
		Mfa:                 method,
		BackupCodeHashes:    r.BackupCodeHashes,
		Roles:               r.Roles,
		LastLoginAt:         r.LastLoginAt,
		LastMfaValidationAt: r.LastMfaValidationAt,
	}, nil
}

func flattenMethod(m authcore.MfaMethod) (kind, secret, phone string) {
	switch v := m.(type) {
	case authcore.TOTPMethod:
		return v.Kind().String(), v.Secret, ""
	case authcore.SMSMethod:
		return v.Kind().String(), "", v.Phone
	case authcore.EmailMethod:
		return v.Kind().String(), "", ""
	default:
		return authcore.MfaNone.String(), "", ""
	}
}
