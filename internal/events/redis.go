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

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes folder-change events to a Redis list so other
// processes (indexers, push gateways) can consume them.
type RedisSink struct {
	rdb       *redis.Client
	queueName string
}

// NewRedisSink creates a sink targeting the given queue.
func NewRedisSink(rdb *redis.Client, queueName string) *RedisSink {
	return &RedisSink{rdb: rdb, queueName: queueName}
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.rdb.LPush(ctx, s.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	slog.Debug("published folder event",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"account", ev.AccountID,
		"folder", ev.Folder,
		"queue", s.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
