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

// Package events delivers folder-change notifications to interested
// observers. The coordinator always invalidates the cache for a folder
// before emitting its event, so an observer that immediately re-queries
// never sees stale cached data.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification.
type Kind string

const (
	// KindFolderChanged means the folder's message set or flags changed.
	KindFolderChanged Kind = "folder_changed"

	// KindFolderDeleted means the folder itself was removed.
	KindFolderDeleted Kind = "folder_deleted"
)

// Event is one folder-change notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	AccountID int       `json:"account_id"`
	Folder    string    `json:"folder"`
	UserID    int       `json:"user_id"`
	ContextID int       `json:"context_id"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an event with a fresh ID and timestamp.
func New(kind Kind, accountID int, folder string, userID, contextID int) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		AccountID: accountID,
		Folder:    folder,
		UserID:    userID,
		ContextID: contextID,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives notifications. Publish failures are best-effort for the
// surrounding operation: the coordinator logs them as warnings.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Memory is an in-process sink collecting events, used by tests and as a
// default when no broker is configured.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-process sink.
func NewMemory() *Memory { return &Memory{} }

// Publish implements Sink.
func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
