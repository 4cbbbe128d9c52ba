// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session keeps the short-lived server-side state of an in-progress
// authorization-code flow, keyed by an opaque session id carried in a signed
// cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stacklok/toolhive-core/httperr"
)

// FlowKey is the fixed key under which a session's flow state is stored.
const FlowKey = "oidc"

// DefaultFlowTTL bounds how long a user may take to complete a login.
const DefaultFlowTTL = 10 * time.Minute

// DefaultCleanupInterval is how often the memory store drops expired flows.
const DefaultCleanupInterval = time.Minute

// ErrNotFound is returned when a session holds no flow state.
var ErrNotFound = httperr.WithCode(
	errors.New("flow state not found"),
	http.StatusNotFound,
)

// FlowState correlates an authorization request with its callback.
type FlowState struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFlowState returns a flow state with fresh, unguessable state and nonce values.
func NewFlowState() (FlowState, error) {
	state, err := randomValue()
	if err != nil {
		return FlowState{}, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomValue()
	if err != nil {
		return FlowState{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return FlowState{State: state, Nonce: nonce, CreatedAt: time.Now().UTC()}, nil
}

// Store persists flow state per session. A session holds at most one flow;
// PutFlow replaces any previous one.
type Store interface {
	// PutFlow stores flow for sessionID, replacing any existing flow.
	PutFlow(ctx context.Context, sessionID string, flow FlowState) error
	// GetFlow returns the flow for sessionID without consuming it.
	GetFlow(ctx context.Context, sessionID string) (*FlowState, error)
	// TakeFlow atomically returns and deletes the flow for sessionID.
	// Exactly one of several concurrent callers receives the flow.
	TakeFlow(ctx context.Context, sessionID string) (*FlowState, error)
	// DeleteFlow removes the flow for sessionID. Deleting a missing flow is not an error.
	DeleteFlow(ctx context.Context, sessionID string) error
	// Close releases resources held by the store.
	Close() error
}

func randomValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
