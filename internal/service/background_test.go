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

package service

import (
	"context"
	"testing"

	"github.com/bcem/mailgate/internal/mail"
)

func TestWarmFolder_BelowLimitPopulatesCache(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.FetchLimit = 3
	env.seed("INBOX", 2, mail.FlagSeen)

	env.svc.WarmFolder(context.Background(), "default0/INBOX")
	_ = env.svc.bg.Wait()

	snapshot, ok := env.cache.Get(0, "INBOX", 7, 1)
	if !ok || len(snapshot) != 2 {
		t.Fatalf("cache not populated: ok=%v messages=%d", ok, len(snapshot))
	}
}

func TestWarmFolder_FolderAtFetchLimitNotCached(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.FetchLimit = 3
	env.seed("INBOX", 3, mail.FlagSeen)

	env.svc.WarmFolder(context.Background(), "default0/INBOX")
	_ = env.svc.bg.Wait()

	if _, ok := env.cache.Get(0, "INBOX", 7, 1); ok {
		t.Error("folder of size equal to the fetch limit must not be cached")
	}
}

func TestWarmFolder_SurvivesCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.seed("INBOX", 2, mail.FlagSeen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.svc.WarmFolder(ctx, "default0/INBOX")
	_ = env.svc.bg.Wait()

	if _, ok := env.cache.Get(0, "INBOX", 7, 1); !ok {
		t.Error("warm population must not die with the caller's context")
	}
}
