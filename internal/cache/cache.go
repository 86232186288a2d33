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

// Package cache holds recently listed messages per (account, folder,
// user, context). It is a process-wide structure shared by all
// coordinator instances; puts replace the entry wholesale (never merge
// across unrelated queries) and reads serve deep copies, so no partial
// write is ever visible.
package cache

import (
	"sync"

	"github.com/bcem/mailgate/internal/mail"
)

// Key addresses one cached folder listing.
type Key struct {
	AccountID int
	Folder    string
	UserID    int
	ContextID int
}

type entry struct {
	order []string
	byID  map[string]*mail.Message
}

// MessageCache is the process-wide result cache. Construct one in main
// and inject it into every coordinator.
type MessageCache struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// New creates an empty cache.
func New() *MessageCache {
	return &MessageCache{entries: make(map[Key]*entry)}
}

// Get returns the full cached snapshot for the folder in insertion
// order, or ok=false when the folder has no entry.
func (c *MessageCache) Get(accountID int, folder string, userID, contextID int) ([]*mail.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[Key{accountID, folder, userID, contextID}]
	if !ok {
		return nil, false
	}
	out := make([]*mail.Message, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.byID[id].Clone())
	}
	return out, true
}

// GetByIDs returns the cached messages for exactly the given IDs in input
// order. ok=false when the folder has no entry or any ID is missing.
func (c *MessageCache) GetByIDs(accountID int, folder string, userID, contextID int, ids []string) ([]*mail.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[Key{accountID, folder, userID, contextID}]
	if !ok {
		return nil, false
	}
	out := make([]*mail.Message, 0, len(ids))
	for _, id := range ids {
		m, ok := e.byID[id]
		if !ok {
			return nil, false
		}
		out = append(out, m.Clone())
	}
	return out, true
}

// Put stores the messages for the user, replacing any stale entry for the
// same (account, folder) wholesale. Messages are grouped by folder;
// entries for folders not present in msgs are left alone.
func (c *MessageCache) Put(accountID int, msgs []*mail.Message, userID, contextID int) {
	byFolder := make(map[string]*entry)
	for _, m := range msgs {
		e, ok := byFolder[m.Folder]
		if !ok {
			e = &entry{byID: make(map[string]*mail.Message)}
			byFolder[m.Folder] = e
		}
		if _, dup := e.byID[m.ID]; !dup {
			e.order = append(e.order, m.ID)
		}
		e.byID[m.ID] = m.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for folder, e := range byFolder {
		k := Key{accountID, folder, userID, contextID}
		// Replace, never merge: stale entries first go away entirely.
		delete(c.entries, k)
		c.entries[k] = e
	}
}

// InvalidateFolder drops the entry for one folder.
func (c *MessageCache) InvalidateFolder(accountID int, folder string, userID, contextID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, Key{accountID, folder, userID, contextID})
}

// InvalidateUser drops every entry belonging to the user.
func (c *MessageCache) InvalidateUser(userID, contextID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.UserID == userID && k.ContextID == contextID {
			delete(c.entries, k)
		}
	}
}

// Remove drops individual messages from a folder entry.
func (c *MessageCache) Remove(accountID int, folder string, userID, contextID int, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key{accountID, folder, userID, contextID}]
	if !ok {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(e.byID, id)
	}
	kept := e.order[:0]
	for _, id := range e.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	e.order = kept
}

// PatchFlags applies a pure flag mutation in place without repopulating
// the entry. A nil ids slice patches every cached message of the folder.
func (c *MessageCache) PatchFlags(ids []string, accountID int, folder string, userID, contextID int, flags int32, userFlags []string, value bool) {
	c.patch(ids, accountID, folder, userID, contextID, func(m *mail.Message) {
		if value {
			m.SetFlags(m.Flags | flags)
		} else {
			m.SetFlags(m.Flags &^ flags)
		}
		if len(userFlags) > 0 {
			m.SetUserFlags(mergeUserFlags(m.UserFlags, userFlags, value))
		}
	})
}

// PatchPreview stores a generated text preview on cached messages.
func (c *MessageCache) PatchPreview(ids []string, accountID int, folder string, userID, contextID int, preview string) {
	c.patch(ids, accountID, folder, userID, contextID, func(m *mail.Message) {
		m.SetTextPreview(preview)
	})
}

// PatchColorLabel applies a pure colour-label mutation in place.
func (c *MessageCache) PatchColorLabel(ids []string, accountID int, folder string, userID, contextID int, label int) {
	c.patch(ids, accountID, folder, userID, contextID, func(m *mail.Message) {
		m.SetColorLabel(label)
	})
}

func (c *MessageCache) patch(ids []string, accountID int, folder string, userID, contextID int, apply func(*mail.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key{accountID, folder, userID, contextID}]
	if !ok {
		return
	}
	if ids == nil {
		for _, m := range e.byID {
			apply(m)
		}
		return
	}
	for _, id := range ids {
		if m, ok := e.byID[id]; ok {
			apply(m)
		}
	}
}

func mergeUserFlags(current, change []string, value bool) []string {
	set := make(map[string]bool, len(current))
	for _, f := range current {
		set[f] = true
	}
	for _, f := range change {
		if value {
			set[f] = true
		} else {
			delete(set, f)
		}
	}
	out := make([]string, 0, len(set))
	for _, f := range current {
		if set[f] {
			out = append(out, f)
			delete(set, f)
		}
	}
	for _, f := range change {
		if set[f] {
			out = append(out, f)
			delete(set, f)
		}
	}
	return out
}
