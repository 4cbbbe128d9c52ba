// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"time"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend string
	FlowTTL time.Duration
	Redis   RedisConfig
}

// NewStore creates the Store selected by cfg.Backend. An empty backend selects memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg.FlowTTL), nil
	case BackendRedis:
		redisCfg := cfg.Redis
		redisCfg.FlowTTL = cfg.FlowTTL
		return NewRedisStore(ctx, redisCfg)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
