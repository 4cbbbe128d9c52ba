// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/stacklok/gqlgate/pkg/storage"
)

// UserStore implements storage.UserStore using SQLite.
type UserStore struct {
	wrapper *DB
	db      *sql.DB
	now     func() time.Time
}

var (
	_ storage.UserStore    = (*UserStore)(nil)
	_ storage.UserUpserter = (*UserStore)(nil)
)

// NewUserStore creates a new SQLite-backed UserStore.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{wrapper: db, db: db.DB(), now: time.Now}
}

// NewUserStoreFromPath opens the database at path and returns a UserStore over it.
func NewUserStoreFromPath(ctx context.Context, path string) (*UserStore, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewUserStore(db), nil
}

// DB returns the underlying *sql.DB.
func (s *UserStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *UserStore) Close() error {
	return s.wrapper.Close()
}

const userColumns = `id, auth_subject_id, email, name, COALESCE(phone, ''), created_at, updated_at`

// CreateUser stores a new user.
func (s *UserStore) CreateUser(ctx context.Context, user storage.NewUser) (*storage.User, error) {
	now := s.timestamp()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, auth_subject_id, email, name, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
		RETURNING `+userColumns,
		uuid.NewString(), user.AuthSubjectID, storage.NormalizeEmail(user.Email), user.Name, user.Phone, now, now,
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
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET email = ?, name = ?, updated_at = ?
		WHERE auth_subject_id = ?
		RETURNING `+userColumns,
		storage.NormalizeEmail(update.Email), update.Name, s.timestamp(), subjectID,
	)

	updated, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
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

// UpsertUserBySubjectID inserts the user or, when the subject already has a
// record, updates its email and name in the same statement.
func (s *UserStore) UpsertUserBySubjectID(ctx context.Context, user storage.NewUser) (*storage.User, bool, error) {
	id := uuid.NewString()
	now := s.timestamp()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, auth_subject_id, email, name, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT (auth_subject_id) DO UPDATE
		SET email = excluded.email, name = excluded.name, updated_at = excluded.updated_at
		RETURNING `+userColumns,
		id, user.AuthSubjectID, storage.NormalizeEmail(user.Email), user.Name, user.Phone, now, now,
	)

	upserted, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, storage.ErrAlreadyExists
		}
		return nil, false, fmt.Errorf("upserting user: %w", err)
	}
	// An update keeps the existing id.
	return upserted, upserted.ID == id, nil
}

// FindUserByID returns the user with the given id.
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*storage.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// FindUserBySubjectID returns the user owning subjectID.
func (s *UserStore) FindUserBySubjectID(ctx context.Context, subjectID string) (*storage.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE auth_subject_id = ?`, subjectID)
}

func (s *UserStore) findOne(ctx context.Context, query string, arg string) (*storage.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

func (s *UserStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func scanUser(row *sql.Row) (*storage.User, error) {
	var (
		user                 storage.User
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&user.ID, &user.AuthSubjectID, &user.Email, &user.Name, &user.Phone, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if user.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &user, nil
}

// isUniqueViolation returns true if the error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
