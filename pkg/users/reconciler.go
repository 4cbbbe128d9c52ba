// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package users keeps the local user table in step with the identity
// provider after each successful login.
package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/stacklok/gqlgate/pkg/storage"
)

// Reconciliation results, used as metric labels.
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultFailed  = "failed"
)

// ResultObserver is notified of every reconciliation outcome.
type ResultObserver interface {
	ObserveReconciliation(result string)
}

// Reconciler upserts the local user record for an authenticated subject.
type Reconciler struct {
	store    storage.UserStore
	logger   *slog.Logger
	observer ResultObserver
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithObserver sets the result observer.
func WithObserver(observer ResultObserver) Option {
	return func(r *Reconciler) {
		r.observer = observer
	}
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store storage.UserStore, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile makes sure a user record exists for subjectID with the given
// email and name. It never returns an error: store failures are logged and
// the login proceeds.
//
// Stores implementing storage.UserUpserter get a single atomic statement.
// Otherwise a create is attempted and a uniqueness violation falls back to an
// update by subject id. Two concurrent first logins for one subject then end
// with one create and one update, both of which are safe because the store
// enforces uniqueness; the later write wins.
func (r *Reconciler) Reconcile(ctx context.Context, subjectID, email, name string) {
	name = DisplayName(subjectID, email, name)
	result := r.reconcile(ctx, subjectID, email, name)
	if r.observer != nil {
		r.observer.ObserveReconciliation(result)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, subjectID, email, name string) string {
	newUser := storage.NewUser{AuthSubjectID: subjectID, Email: email, Name: name}

	if upserter, ok := r.store.(storage.UserUpserter); ok {
		user, created, err := upserter.UpsertUserBySubjectID(ctx, newUser)
		if err != nil {
			r.logger.Error("failed to upsert user", "sub", subjectID, "error", err)
			return ResultFailed
		}
		if created {
			r.logger.Info("user created", "sub", subjectID, "id", user.ID)
			return ResultCreated
		}
		r.logger.Debug("user updated", "sub", subjectID, "id", user.ID)
		return ResultUpdated
	}

	r.logger.Debug("creating user", "sub", subjectID)
	user, err := r.store.CreateUser(ctx, newUser)
	if err == nil {
		r.logger.Info("user created", "sub", subjectID, "id", user.ID)
		return ResultCreated
	}
	if !errors.Is(err, storage.ErrAlreadyExists) {
		r.logger.Error("failed to create user", "sub", subjectID, "error", err)
		return ResultFailed
	}

	r.logger.Debug("updating user", "sub", subjectID)
	if _, err := r.store.UpdateUserBySubjectID(ctx, subjectID, storage.UserUpdate{Email: email, Name: name}); err != nil {
		r.logger.Error("failed to update user", "sub", subjectID, "error", err)
		return ResultFailed
	}
	return ResultUpdated
}

// DisplayName returns name, or the local part of email, or subjectID,
// whichever is first non-empty.
func DisplayName(subjectID, email, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if local, _, found := strings.Cut(email, "@"); found && local != "" {
		return local
	}
	return subjectID
}
