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

// Package account defines per-user mail account records and a
// Postgres-backed store for them. An account carries everything the
// connection manager needs to open a session plus the per-account
// settings (folder roles, colour-flag mode) the pipeline consults.
package account

import (
	"context"
	"sync"

	"github.com/bcem/mailgate/internal/mail"
)

// FlaggingMode selects how the \Flagged bit and the colour label are
// reconciled for display.
type FlaggingMode int

const (
	// ModeDefault leaves both untouched.
	ModeDefault FlaggingMode = iota

	// ModeFlaggedOnly suppresses colour labels: a non-zero label is
	// cleared to 0 before a message is surfaced.
	ModeFlaggedOnly

	// ModeFlaggedImplicit derives a colour from the \Flagged bit: a
	// flagged message without a label gets the configured colour.
	ModeFlaggedImplicit
)

// Account is one configured mail account of a (user, context) pair.
type Account struct {
	ID        int
	UserID    int
	ContextID int

	Name     string
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool

	// OAuth client-credential settings; when TokenURL is set the
	// connection authenticates with a bearer token instead of the
	// password.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string

	// Folder roles within the account.
	SpamFullname    string
	TrashFullname   string
	ArchiveFullname string

	FlaggingMode  FlaggingMode
	FlaggingColor int

	// TransportOnly accounts can send but never be read.
	TransportOnly bool

	// OAuthRestricted marks a session whose grant is limited to the
	// primary account; secondary accounts must not be opened.
	OAuthRestricted bool

	// Unified marks the synthetic multi-account inbox; Members lists
	// the real accounts it spans.
	Unified bool
	Members []int
}

// CheckAccess reports whether the account may be opened for message
// access, failing with a typed access-denied error otherwise.
func (a *Account) CheckAccess(sessionRestricted bool) error {
	if a.TransportOnly {
		return mail.NewError(mail.KindAccessDenied, "account %d (%s) is transport-only", a.ID, a.Name)
	}
	if sessionRestricted && a.ID != 0 {
		return mail.NewError(mail.KindAccessDenied, "session is restricted to the primary account, cannot open account %d", a.ID)
	}
	return nil
}

// Source resolves account records for a (user, context) pair. Implemented
// by Store (Postgres) and Memory (tests, static config).
type Source interface {
	Get(ctx context.Context, userID, contextID, accountID int) (*Account, error)
	List(ctx context.Context, userID, contextID int) ([]Account, error)
}

// Memory is an in-memory Source for tests and static configurations.
type Memory struct {
	mu       sync.RWMutex
	accounts map[[3]int]Account
}

// NewMemory creates an empty in-memory account source.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[[3]int]Account)}
}

// Put inserts or replaces an account record.
func (m *Memory) Put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[[3]int{a.UserID, a.ContextID, a.ID}] = a
}

// Get implements Source.
func (m *Memory) Get(_ context.Context, userID, contextID, accountID int) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[[3]int{userID, contextID, accountID}]
	if !ok {
		return nil, mail.NewError(mail.KindNotFound, "account %d not found for user %d in context %d", accountID, userID, contextID)
	}
	return &a, nil
}

// List implements Source.
func (m *Memory) List(_ context.Context, userID, contextID int) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Account
	for k, a := range m.accounts {
		if k[0] == userID && k[1] == contextID {
			out = append(out, a)
		}
	}
	return out, nil
}
