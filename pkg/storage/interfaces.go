// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides domain-specific storage interfaces for gqlgate.
package storage

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_user_store.go -package=mocks -source=interfaces.go UserStore

// User is the local record of a person who has logged in through the provider.
type User struct {
	ID            string    `json:"id"`
	AuthSubjectID string    `json:"auth_subject_id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewUser holds the fields required to create a User.
type NewUser struct {
	AuthSubjectID string
	Email         string
	Name          string
	Phone         string
}

// UserUpdate holds the mutable fields of a User.
type UserUpdate struct {
	Email string
	Name  string
}

// UserStore defines the interface for managing user persistence.
type UserStore interface {
	// CreateUser stores a new user. It returns ErrAlreadyExists when the
	// subject id or the email (case-insensitive) is already taken.
	CreateUser(ctx context.Context, user NewUser) (*User, error)
	// UpdateUserBySubjectID updates the mutable fields of the user owning
	// subjectID. It returns ErrNotFound when no such user exists.
	UpdateUserBySubjectID(ctx context.Context, subjectID string, update UserUpdate) (*User, error)
	// FindUserByID returns the user with the given id or ErrNotFound.
	FindUserByID(ctx context.Context, id string) (*User, error)
	// FindUserBySubjectID returns the user owning subjectID or ErrNotFound.
	FindUserBySubjectID(ctx context.Context, subjectID string) (*User, error)
	// Close releases any resources held by the store.
	Close() error
}

// UserUpserter is implemented by stores that can insert-or-update a user
// keyed by subject id in one atomic statement. created reports whether the
// statement inserted a new record.
type UserUpserter interface {
	UpsertUserBySubjectID(ctx context.Context, user NewUser) (u *User, created bool, err error)
}
