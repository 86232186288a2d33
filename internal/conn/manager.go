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

// Package conn lazily establishes and reuses one remote mail session per
// account. A manager belongs to a single coordinator instance and is not
// safe for concurrent use; connecting is its only blocking point and is
// never retried here (retry is layered outside).
package conn

import (
	"context"
	"log/slog"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/storage"
)

// Session is one live connection to an account's backend, carrying the
// storage capabilities probed at setup.
type Session struct {
	Account  *account.Account
	Messages storage.MessageStorage
	Folders  storage.FolderStorage
	Caps     storage.Capabilities

	// Warnings surfaced by the connect call (e.g. degraded capability
	// negotiation). Non-fatal.
	Warnings []error

	// Closer releases the connection; may be nil for in-process fakes.
	Closer func() error
}

// Close releases the session.
func (s *Session) Close() error {
	if s == nil || s.Closer == nil {
		return nil
	}
	return s.Closer()
}

// Dialer opens a session for an account.
type Dialer interface {
	Open(ctx context.Context, acct *account.Account) (*Session, error)
}

// Manager resolves and caches the active session for the coordinator.
type Manager struct {
	accounts   account.Source
	dial       Dialer
	userID     int
	contextID  int
	restricted bool

	active   *Session
	warnings []error
}

// NewManager creates a manager for one (user, context) pair. restricted
// marks an OAuth session limited to the primary account.
func NewManager(src account.Source, d Dialer, userID, contextID int, restricted bool) *Manager {
	return &Manager{
		accounts:   src,
		dial:       d,
		userID:     userID,
		contextID:  contextID,
		restricted: restricted,
	}
}

// UserID returns the owning user.
func (m *Manager) UserID() int { return m.userID }

// ContextID returns the owning context.
func (m *Manager) ContextID() int { return m.contextID }

// CheckAccess resolves the account and applies the session's access
// rules without connecting. Paths that answer from shared state, like
// the cache, go through this so a transport-only account or a
// restricted session is refused even when no connection is needed.
func (m *Manager) CheckAccess(ctx context.Context, accountID int) (*account.Account, error) {
	acct, err := m.accounts.Get(ctx, m.userID, m.contextID, accountID)
	if err != nil {
		return nil, err
	}
	if err := acct.CheckAccess(m.restricted); err != nil {
		return nil, err
	}
	return acct, nil
}

// Ensure returns a live session for the account, reusing the active one
// when it matches and switching (close old, open new) when it does not.
// Access checks fail fast before any connection attempt.
func (m *Manager) Ensure(ctx context.Context, accountID int) (*Session, error) {
	if m.active != nil && m.active.Account.ID == accountID {
		return m.active, nil
	}

	acct, err := m.CheckAccess(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if m.active != nil {
		if err := m.active.Close(); err != nil {
			slog.Warn("closing previous session failed",
				"account", m.active.Account.ID,
				"error", err,
			)
		}
		m.active = nil
	}

	sess, err := m.dial.Open(ctx, acct)
	if err != nil {
		return nil, err
	}
	m.warnings = append(m.warnings, sess.Warnings...)
	m.active = sess

	slog.Debug("mail session established",
		"account", accountID,
		"user", m.userID,
		"context", m.contextID,
	)
	return sess, nil
}

// Invalidate drops the active session without closing it, used after the
// backend reported the connection gone.
func (m *Manager) Invalidate() {
	if m.active != nil {
		_ = m.active.Close()
		m.active = nil
	}
}

// AddWarning records a non-fatal issue for the current request.
func (m *Manager) AddWarning(err error) {
	if err != nil {
		m.warnings = append(m.warnings, err)
	}
}

// Warnings returns everything collected so far.
func (m *Manager) Warnings() []error { return m.warnings }

// Close releases the active session.
func (m *Manager) Close() error {
	if m.active == nil {
		return nil
	}
	err := m.active.Close()
	m.active = nil
	return err
}
