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

// Package service implements the mail retrieval coordinator: the public
// operations request handlers call into. Each operation parses the
// composite folder identifier, runs under the bounded retry policy,
// resolves the field set, applies the fetch listener chain, issues the
// search/fetch against the connected account's storage, and keeps the
// shared result cache and folder-change events consistent.
//
// A Service instance belongs to one logical request handle and owns its
// connection manager exclusively; the cache and event sink are shared
// process-wide.
package service

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/cache"
	"github.com/bcem/mailgate/internal/conn"
	"github.com/bcem/mailgate/internal/config"
	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/listener"
	"github.com/bcem/mailgate/internal/mail"
	"github.com/bcem/mailgate/internal/retry"
	"github.com/bcem/mailgate/internal/storage"
)

// Guard is the optional cross-process lock around background cache
// warming, so only one process warms a folder at a time.
type Guard interface {
	TryLock(ctx context.Context, key string) (bool, error)
}

// Previewer generates a text preview for a message with non-inline
// attachments. Invoked best-effort in the background after a fetch.
type Previewer interface {
	GeneratePreview(ctx context.Context, accountID int, folder, id string) (string, error)
}

// Deps wires a Service. Accounts, Dialer and Cache are required; the
// rest default to no-ops when nil.
type Deps struct {
	Settings  *config.Config
	Accounts  account.Source
	Dialer    conn.Dialer
	Cache     *cache.MessageCache
	Listeners *listener.Registry
	Events    events.Sink
	Spam      storage.SpamHandler
	Guard     Guard
	Previewer Previewer

	UserID     int
	ContextID  int
	Restricted bool
}

// Service is the per-request mail coordinator.
type Service struct {
	cfg       *config.Config
	accounts  account.Source
	dialer    conn.Dialer
	conns     *conn.Manager
	cache     *cache.MessageCache
	registry  *listener.Registry
	events    events.Sink
	spam      storage.SpamHandler
	guard     Guard
	previewer Previewer
	policy    retry.Policy

	userID    int
	contextID int

	bg errgroup.Group
}

// New creates a coordinator for one (user, context) pair.
func New(d Deps) *Service {
	cfg := d.Settings
	if cfg == nil {
		cfg = config.Default()
	}
	sink := d.Events
	if sink == nil {
		sink = events.NewMemory()
	}
	policy := retry.Default()
	policy.Backoff = cfg.RetryBackoff
	return &Service{
		cfg:       cfg,
		accounts:  d.Accounts,
		dialer:    d.Dialer,
		conns:     conn.NewManager(d.Accounts, d.Dialer, d.UserID, d.ContextID, d.Restricted),
		cache:     d.Cache,
		registry:  d.Listeners,
		events:    sink,
		spam:      d.Spam,
		guard:     d.Guard,
		previewer: d.Previewer,
		policy:    policy,
		userID:    d.UserID,
		contextID: d.ContextID,
	}
}

// Warnings returns the non-fatal issues collected while serving this
// handle. Attached to successful results by the caller.
func (s *Service) Warnings() []error { return s.conns.Warnings() }

// Close waits for background work and releases the active session.
func (s *Service) Close() error {
	_ = s.bg.Wait()
	return s.conns.Close()
}

// run executes a retryable unit under the policy, dropping the session
// on transient failure so the retry reconnects.
func run[T any](ctx context.Context, s *Service, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, s.policy, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && mail.IsTransient(err) {
			s.conns.Invalidate()
		}
		return v, err
	})
}

// emitFolderEvent publishes one change notification. The cache for the
// folder must already have been invalidated or patched by the caller:
// invalidation happens-before the event, so an observer that immediately
// re-queries never sees stale data.
func (s *Service) emitFolderEvent(ctx context.Context, kind events.Kind, accountID int, fullname string) {
	ev := events.New(kind, accountID, fullname, s.userID, s.contextID)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.conns.AddWarning(err)
		slog.Warn("publishing folder event failed",
			"kind", kind,
			"account", accountID,
			"folder", fullname,
			"error", err,
		)
	}
}

// applyAccountDefaults stamps the owning account onto messages the
// storage layer returned without one, and the account name when that
// field was requested. Messages must not leave the pipeline without an
// account.
func applyAccountDefaults(msgs []*mail.Message, acct *account.Account, fields mail.FieldSet) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if !m.HasAccountID() {
			m.SetAccountID(acct.ID)
		}
		if fields.Has(mail.FieldAccountName) && !m.Has(mail.FieldAccountName) {
			m.SetAccountName(acct.Name)
		}
	}
}

// reconcileColors applies the flagging-mode state machine to every
// message surfaced to a caller. Runs after the listener chain. The
// transformation is idempotent: re-applying it to already reconciled
// messages changes nothing.
func reconcileColors(msgs []*mail.Message, acct *account.Account) {
	switch acct.FlaggingMode {
	case account.ModeFlaggedImplicit:
		for _, m := range msgs {
			if m.Has(mail.FieldFlags) && m.Flagged() && m.ColorLabel == 0 {
				m.SetColorLabel(acct.FlaggingColor)
			}
		}
	case account.ModeFlaggedOnly:
		for _, m := range msgs {
			if m.Has(mail.FieldColorLabel) && m.ColorLabel != 0 {
				m.SetColorLabel(0)
			}
		}
	}
}

// sortMessages orders msgs by the sort field and direction.
func sortMessages(msgs []*mail.Message, field mail.SortField, order mail.Order) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if order == mail.OrderDesc {
			return field.Less(msgs[j], msgs[i])
		}
		return field.Less(msgs[i], msgs[j])
	})
}

// applyRange slices a half-open [Start, End) window out of msgs.
func applyRange(msgs []*mail.Message, r *mail.IndexRange) []*mail.Message {
	if r == nil {
		return msgs
	}
	start, end := r.Start, r.End
	if start >= len(msgs) {
		return nil
	}
	if end > len(msgs) {
		end = len(msgs)
	}
	return msgs[start:end]
}

// checkSearchTerm enforces the configured minimum pattern length.
func (s *Service) checkSearchTerm(term *mail.SearchTerm) error {
	if term == nil || s.cfg.MinSearchChars <= 0 {
		return nil
	}
	if n := term.ShortestPattern(); n >= 0 && n < s.cfg.MinSearchChars {
		return mail.NewError(mail.KindInvalidInput,
			"search pattern shorter than the configured minimum of %d characters", s.cfg.MinSearchChars)
	}
	return nil
}

// messageIDs extracts the IDs of msgs in order.
func messageIDs(msgs []*mail.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
