// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package postgres implements the storage interfaces on PostgreSQL using pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/stacklok/gqlgate/pkg/storage"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB defines the database operations used by UserStore.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	db    DB
	close func()
}

var (
	_ storage.UserStore    = (*UserStore)(nil)
	_ storage.UserUpserter = (*UserStore)(nil)
)

// NewUserStore creates a UserStore over an existing connection or pool.
// The caller owns db and its lifecycle.
func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db, close: func() {}}
}

// Open connects to the database at dsn, applies pending migrations and
// returns a UserStore that owns the pool.
func Open(ctx context.Context, dsn string) (*UserStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return &UserStore{db: pool, close: pool.Close}, pool, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(database.DialectPostgres, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close releases the pool when the store owns it.
func (s *UserStore) Close() error {
	s.close()
	return nil
}

const userColumns = `id::text, auth_subject_id, email, name, COALESCE(phone, ''), created_at, updated_at`

// CreateUser stores a new user.
func (s *UserStore) CreateUser(ctx context.Context, user storage.NewUser) (*storage.User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, auth_subject_id, email, name, phone)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING `+userColumns,
		uuid.NewString(), user.AuthSubjectID, storage.NormalizeEmail(user.Email), user.Name, user.Phone,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return created, nil
}

// UpdateUserBySubjectID updates email and name of the user owning subjectID.
func (s *UserStore) UpdateUserBySubjectID(
	ctx context.Context, subjectID string, update storage.UserUpdate,
) (*storage.User, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users SET email = $1, name = $2, updated_at = now()
		WHERE auth_subject_id = $3
		RETURNING `+userColumns,
		storage.NormalizeEmail(update.Email), update.Name, subjectID,
	)
	updated, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return updated, nil
}

// UpsertUserBySubjectID inserts the user or updates email and name of the
// existing record for the subject in one statement.
func (s *UserStore) UpsertUserBySubjectID(ctx context.Context, user storage.NewUser) (*storage.User, bool, error) {
	id := uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, auth_subject_id, email, name, phone)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (auth_subject_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = now()
		RETURNING `+userColumns,
		id, user.AuthSubjectID, storage.NormalizeEmail(user.Email), user.Name, user.Phone,
	)
	upserted, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, storage.ErrAlreadyExists
		}
		return nil, false, fmt.Errorf("upserting user: %w", err)
	}
	return upserted, upserted.ID == id, nil
}

// FindUserByID returns the user with the given id.
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*storage.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, parsed.String())
}

// FindUserBySubjectID returns the user owning subjectID.
func (s *UserStore) FindUserBySubjectID(ctx context.Context, subjectID string) (*storage.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE auth_subject_id = $1`, subjectID)
}

func (s *UserStore) findOne(ctx context.Context, query string, arg any) (*storage.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var user storage.User
	if err := row.Scan(
		&user.ID, &user.AuthSubjectID, &user.Email, &user.Name, &user.Phone, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
