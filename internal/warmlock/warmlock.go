// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package warmlock provides the cross-process lock around background
// cache warming, using a Redis SET NX with TTL. Two processes reacting
// to the same folder-change event would otherwise warm the same folder
// twice; the TTL releases the lock even when the holder dies mid-warm.
package warmlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds one warming pass. Warming a folder is a single
	// listing, so a minute is generous.
	DefaultTTL = time.Minute

	// keyPrefix namespaces warm locks in Redis.
	keyPrefix = "mailgate:warm:"
)

// Guard hands out at most one warming slot per key at a time.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a guard backed by Redis. A non-positive ttl falls back to
// DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// TryLock returns true if the caller acquired the warming slot for the
// key. The slot expires on its own; there is no unlock.
func (g *Guard) TryLock(ctx context.Context, key string) (bool, error) {
	set, err := g.rdb.SetNX(ctx, fmt.Sprintf("%s%s", keyPrefix, key), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("warm lock SETNX: %w", err)
	}
	return set, nil
}
