// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package users

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/gqlgate/pkg/storage"
	"github.com/stacklok/gqlgate/pkg/storage/mocks"
	"github.com/stacklok/gqlgate/pkg/storage/sqlite"
)

type countingObserver struct {
	results []string
}

func (o *countingObserver) ObserveReconciliation(result string) {
	o.results = append(o.results, result)
}

// upsertingStore combines the two generated mocks into a store that upserts.
type upsertingStore struct {
	*mocks.MockUserStore
	*mocks.MockUserUpserter
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name       string
		setup      func(store *mocks.MockUserStore)
		wantResult string
	}{
		{
			name: "first login creates",
			setup: func(store *mocks.MockUserStore) {
				store.EXPECT().CreateUser(ctx, storage.NewUser{AuthSubjectID: "sub-1", Email: "ada@example.com", Name: "Ada"}).
					Return(&storage.User{ID: "u1"}, nil)
			},
			wantResult: ResultCreated,
		},
		{
			name: "duplicate create falls back to update",
			setup: func(store *mocks.MockUserStore) {
				gomock.InOrder(
					store.EXPECT().CreateUser(ctx, gomock.Any()).Return(nil, storage.ErrAlreadyExists),
					store.EXPECT().UpdateUserBySubjectID(ctx, "sub-1", storage.UserUpdate{Email: "ada@example.com", Name: "Ada"}).
						Return(&storage.User{ID: "u1"}, nil),
				)
			},
			wantResult: ResultUpdated,
		},
		{
			name: "unexpected create error is swallowed",
			setup: func(store *mocks.MockUserStore) {
				store.EXPECT().CreateUser(ctx, gomock.Any()).Return(nil, errors.New("connection refused"))
			},
			wantResult: ResultFailed,
		},
		{
			name: "update error after duplicate is swallowed",
			setup: func(store *mocks.MockUserStore) {
				store.EXPECT().CreateUser(ctx, gomock.Any()).Return(nil, storage.ErrAlreadyExists)
				store.EXPECT().UpdateUserBySubjectID(ctx, "sub-1", gomock.Any()).Return(nil, storage.ErrNotFound)
			},
			wantResult: ResultFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			store := mocks.NewMockUserStore(ctrl)
			tt.setup(store)

			observer := &countingObserver{}
			var logs bytes.Buffer
			r := NewReconciler(store,
				WithObserver(observer),
				WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
			)

			assert.NotPanics(t, func() { r.Reconcile(ctx, "sub-1", "ada@example.com", "Ada") })
			assert.Equal(t, []string{tt.wantResult}, observer.results)
			if tt.wantResult == ResultFailed {
				assert.Contains(t, logs.String(), "level=ERROR")
			}
		})
	}
}

func TestReconcile_PrefersAtomicUpsert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		created    bool
		err        error
		wantResult string
	}{
		{name: "inserted", created: true, wantResult: ResultCreated},
		{name: "existing subject", created: false, wantResult: ResultUpdated},
		{name: "store error", err: errors.New("disk full"), wantResult: ResultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			ctrl := gomock.NewController(t)
			store := upsertingStore{
				MockUserStore:    mocks.NewMockUserStore(ctrl),
				MockUserUpserter: mocks.NewMockUserUpserter(ctrl),
			}
			var user *storage.User
			if tt.err == nil {
				user = &storage.User{ID: "u1"}
			}
			store.MockUserUpserter.EXPECT().
				UpsertUserBySubjectID(ctx, storage.NewUser{AuthSubjectID: "sub-1", Email: "ada@example.com", Name: "ada"}).
				Return(user, tt.created, tt.err)

			observer := &countingObserver{}
			NewReconciler(store, WithObserver(observer)).Reconcile(ctx, "sub-1", "ada@example.com", "")
			assert.Equal(t, []string{tt.wantResult}, observer.results)
		})
	}
}

// createUpdateOnly hides the atomic upsert of the wrapped store.
type createUpdateOnly struct {
	storage.UserStore
}

func TestReconcile_TwiceKeepsOneRecord(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		wrap func(storage.UserStore) storage.UserStore
	}{
		{"atomic upsert", func(s storage.UserStore) storage.UserStore { return s }},
		{"create then update", func(s storage.UserStore) storage.UserStore { return createUpdateOnly{s} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := t.Context()
			store, err := sqlite.NewUserStoreFromPath(ctx, filepath.Join(t.TempDir(), "users.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			observer := &countingObserver{}
			r := NewReconciler(tc.wrap(store), WithObserver(observer))
			r.Reconcile(ctx, "sub-1", "ada@example.com", "Ada")
			r.Reconcile(ctx, "sub-1", "ada@example.org", "Ada Lovelace")
			assert.Equal(t, []string{ResultCreated, ResultUpdated}, observer.results)

			user, err := store.FindUserBySubjectID(ctx, "sub-1")
			require.NoError(t, err)
			assert.Equal(t, "ada@example.org", user.Email)
			assert.Equal(t, "Ada Lovelace", user.Name)

			var count int
			require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
			assert.Equal(t, 1, count)
		})
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                  string
		subject, email, given string
		want                  string
	}{
		{"name wins", "sub", "ada@example.com", "Ada", "Ada"},
		{"blank name uses email local part", "sub", "ada@example.com", "  ", "ada"},
		{"no email uses subject", "sub", "", "", "sub"},
		{"email without at uses subject", "sub", "ada", "", "sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DisplayName(tt.subject, tt.email, tt.given))
		})
	}
}

func TestReconcile_UsersWithoutEmail(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		wrap func(storage.UserStore) storage.UserStore
	}{
		{"atomic upsert", func(s storage.UserStore) storage.UserStore { return s }},
		{"create then update", func(s storage.UserStore) storage.UserStore { return createUpdateOnly{s} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := t.Context()
			store, err := sqlite.NewUserStoreFromPath(ctx, filepath.Join(t.TempDir(), "users.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			observer := &countingObserver{}
			r := NewReconciler(tc.wrap(store), WithObserver(observer))
			r.Reconcile(ctx, "sub-1", "", "")
			r.Reconcile(ctx, "sub-2", "", "")
			assert.Equal(t, []string{ResultCreated, ResultCreated}, observer.results)

			for _, sub := range []string{"sub-1", "sub-2"} {
				user, err := store.FindUserBySubjectID(ctx, sub)
				require.NoError(t, err)
				assert.Equal(t, sub, user.Name)
				assert.Empty(t, user.Email)
			}
		})
	}
}
