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
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/conn"
	"github.com/bcem/mailgate/internal/fields"
	"github.com/bcem/mailgate/internal/listener"
	"github.com/bcem/mailgate/internal/mail"
)

var idAndFolder = mail.NewFieldSet(mail.FieldID, mail.FieldFolderID)

// GetMessages lists a folder under the given range, sort, order and
// optional search term. The result is finite and restartable only by
// re-invocation.
func (s *Service) GetMessages(ctx context.Context, folderID string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Empty() {
		// Degenerate pagination short-circuits with zero remote calls.
		return []*mail.Message{}, nil
	}
	if err := s.checkSearchTerm(term); err != nil {
		return nil, err
	}

	return run(ctx, s, func(ctx context.Context) ([]*mail.Message, error) {
		return s.list(ctx, f, r, sortBy, order, term, fieldSet, headers)
	})
}

// GetAllMessages lists a whole folder without filter or pagination.
func (s *Service) GetAllMessages(ctx context.Context, folderID string, sortBy mail.SortField, order mail.Order, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	return s.GetMessages(ctx, folderID, nil, sortBy, order, nil, fieldSet, headers)
}

// SearchMails is GetMessages with a mandatory search term.
func (s *Service) SearchMails(ctx context.Context, folderID string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	return s.GetMessages(ctx, folderID, r, sortBy, order, term, fieldSet, headers)
}

// list is the un-retried fetch pipeline for one folder listing.
func (s *Service) list(ctx context.Context, f mail.FolderID, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	// Access rules apply to cached reads too, so the check runs before
	// the cache probe, not only inside the connect path.
	acct, err := s.conns.CheckAccess(ctx, f.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.Unified {
		return s.listUnified(ctx, acct, f, r, sortBy, order, term, fieldSet, headers)
	}

	args := mail.FetchArguments{Folder: f, Fields: fieldSet, Headers: headers, Term: term, Sort: sortBy, Order: order}
	chain := s.registry.ChainFor(args, acct)

	// Cache probe first: a usable snapshot avoids connecting at all
	// unless requested attributes are missing.
	if msgs, ok, err := s.serveFromCache(ctx, acct, chain, f, r, sortBy, order, term, fieldSet, headers); err != nil {
		return nil, err
	} else if ok {
		return msgs, nil
	}

	sess, err := s.conns.Ensure(ctx, f.AccountID)
	if err != nil {
		return nil, err
	}

	// Phase 1: cheap minimal-field listing under search/sort/range.
	phase1, err := sess.Messages.Search(ctx, f.Fullname, r, sortBy, order, term, idAndFolder, nil)
	if err != nil {
		return nil, err
	}
	if len(phase1) == 0 {
		return []*mail.Message{}, nil
	}

	resolved := fields.Resolve(fieldSet, headers, len(phase1), s.cfg.FetchLimit, acct.FlaggingMode)
	effFields, effHeaders, err := chain.BeforeFetch(ctx, args, resolved.Fields, resolved.Headers)
	if err != nil {
		return nil, err
	}

	// Phase 2: full-record fetch by ID unless the fast path applies or
	// phase 1 already carries everything requested.
	msgs := phase1
	if !resolved.OnlyIDAndFolder && !allPresent(phase1, effFields, effHeaders) {
		msgs, err = sess.Messages.Fetch(ctx, f.Fullname, messageIDs(phase1), effFields, effHeaders)
		if err != nil {
			return nil, err
		}
	}

	msgs, cacheable, err := chain.AfterFetch(ctx, msgs, resolved.Cacheable)
	if err != nil {
		return nil, err
	}

	applyAccountDefaults(msgs, acct, effFields)
	reconcileColors(msgs, acct)

	if cacheable && s.cache != nil {
		s.cache.Put(f.AccountID, msgs, s.userID, s.contextID)
	}
	return msgs, nil
}

// serveFromCache answers a listing from the shared cache when a snapshot
// exists and the listener chain re-accepts it for the current arguments.
// Missing headers or text previews are merged in with a lighter fetch
// instead of a full re-fetch.
func (s *Service) serveFromCache(ctx context.Context, acct *account.Account, chain listener.Chain, f mail.FolderID, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	snapshot, ok := s.cache.Get(f.AccountID, f.Fullname, s.userID, s.contextID)
	if !ok {
		return nil, false, nil
	}

	// The snapshot must already carry the plain requested fields plus
	// every attribute the term consults: matching against unpopulated
	// zero values would silently filter messages out. Headers and text
	// previews are the two requested attributes worth a follow-up merge
	// fetch.
	mergeable := mail.NewFieldSet(mail.FieldHeaders, mail.FieldTextPreview)
	core := fieldSet.Without(mail.FieldHeaders, mail.FieldTextPreview).Union(term.Fields())
	for _, m := range snapshot {
		if !m.Present().Contains(core) {
			return nil, false, nil
		}
	}

	var msgs []*mail.Message
	for _, m := range snapshot {
		if term.Matches(m) {
			msgs = append(msgs, m)
		}
	}
	sortMessages(msgs, sortBy, order)
	msgs = applyRange(msgs, r)

	missing := fieldSet & mergeable
	needMerge := false
	for _, m := range msgs {
		if missing != 0 && !m.Present().Contains(missing) {
			needMerge = true
			break
		}
		if len(headers) > 0 && !m.Has(mail.FieldHeaders) {
			needMerge = true
			break
		}
	}
	if needMerge {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return nil, false, err
		}
		light, err := sess.Messages.Fetch(ctx, f.Fullname, messageIDs(msgs), missing.With(mail.FieldID), headers)
		if err != nil {
			return nil, false, err
		}
		byID := make(map[string]*mail.Message, len(light))
		for _, lm := range light {
			byID[lm.ID] = lm
		}
		for _, m := range msgs {
			m.MergeFrom(byID[m.ID])
		}
	}

	msgs, _, err := chain.AfterFetch(ctx, msgs, false)
	if err != nil {
		return nil, false, err
	}
	applyAccountDefaults(msgs, acct, fieldSet)
	reconcileColors(msgs, acct)

	slog.Debug("listing served from cache",
		"account", f.AccountID,
		"folder", f.Fullname,
		"messages", len(msgs),
		"merged", needMerge,
	)
	return msgs, true, nil
}

// listUnified fans a listing out across the unified account's members
// and remaps the results onto the unified addressing. Unified results
// are never cached.
func (s *Service) listUnified(ctx context.Context, unified *account.Account, f mail.FolderID, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	grp, gctx := errgroup.WithContext(ctx)
	results := make([][]*mail.Message, len(unified.Members))

	for i, memberID := range unified.Members {
		i, memberID := i, memberID
		grp.Go(func() error {
			// Each member gets its own manager: the request's manager
			// holds a single session and is not safe to share.
			mgr := conn.NewManager(s.accounts, s.dialer, s.userID, s.contextID, false)
			defer mgr.Close()

			sess, err := mgr.Ensure(gctx, memberID)
			if err != nil {
				return err
			}
			acct := sess.Account

			wanted := fieldSet.Union(idAndFolder)
			msgs, err := sess.Messages.Search(gctx, f.Fullname, nil, sortBy, order, term, wanted, headers)
			if err != nil {
				if mail.IsNotFound(err) {
					// Member account lacking the folder contributes nothing.
					return nil
				}
				return err
			}
			for _, m := range msgs {
				if fieldSet.Has(mail.FieldAccountName) {
					m.SetAccountName(acct.Name)
				}
				m.SetAccountID(unified.ID)
				m.SetFolder(f.Fullname)
			}
			results[i] = msgs
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var merged []*mail.Message
	for _, part := range results {
		merged = append(merged, part...)
	}
	sortMessages(merged, sortBy, order)
	merged = applyRange(merged, r)

	args := mail.FetchArguments{Folder: f, Fields: fieldSet, Headers: headers, Term: term, Sort: sortBy, Order: order}
	chain := s.registry.ChainFor(args, unified)
	merged, _, err := chain.AfterFetch(ctx, merged, false)
	if err != nil {
		return nil, err
	}
	reconcileColors(merged, unified)
	return merged, nil
}

// GetMessageList fetches the given messages by ID. Result order matches
// the input ID order.
func (s *Service) GetMessageList(ctx context.Context, folderID string, ids []string, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*mail.Message{}, nil
	}

	return run(ctx, s, func(ctx context.Context) ([]*mail.Message, error) {
		acct, err := s.conns.CheckAccess(ctx, f.AccountID)
		if err != nil {
			return nil, err
		}

		args := mail.FetchArguments{Folder: f, Fields: fieldSet, Headers: headers}
		chain := s.registry.ChainFor(args, acct)

		// Serve from cache when every ID is present with the plain
		// requested fields.
		if s.cache != nil && len(headers) == 0 {
			if cached, ok := s.cache.GetByIDs(f.AccountID, f.Fullname, s.userID, s.contextID, ids); ok {
				complete := true
				core := fieldSet.Without(mail.FieldHeaders, mail.FieldTextPreview)
				for _, m := range cached {
					if !m.Present().Contains(core) {
						complete = false
						break
					}
				}
				if complete {
					msgs, _, err := chain.AfterFetch(ctx, cached, false)
					if err != nil {
						return nil, err
					}
					applyAccountDefaults(msgs, acct, fieldSet)
					reconcileColors(msgs, acct)
					return msgs, nil
				}
			}
		}

		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return nil, err
		}
		resolved := fields.Resolve(fieldSet, headers, len(ids), s.cfg.FetchLimit, acct.FlaggingMode)
		effFields, effHeaders, err := chain.BeforeFetch(ctx, args, resolved.Fields, resolved.Headers)
		if err != nil {
			return nil, err
		}
		msgs, err := sess.Messages.Fetch(ctx, f.Fullname, ids, effFields, effHeaders)
		if err != nil {
			return nil, err
		}
		msgs, _, err = chain.AfterFetch(ctx, msgs, false)
		if err != nil {
			return nil, err
		}
		applyAccountDefaults(msgs, acct, effFields)
		reconcileColors(msgs, acct)
		return msgs, nil
	})
}

// GetMessage fetches one full message. When markSeen is false the
// message's unseen state is preserved: the storage layer's raw fetch
// marks it read, so the coordinator counteracts with a minimal
// single-flag update rather than a re-fetch.
func (s *Service) GetMessage(ctx context.Context, folderID, id string, markSeen bool) (*mail.Message, error) {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return nil, err
	}

	msg, err := run(ctx, s, func(ctx context.Context) (*mail.Message, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return nil, err
		}
		// The returned flags reflect the pre-fetch state even though
		// the backend has marked the message seen by now.
		m, err := sess.Messages.GetMessage(ctx, f.Fullname, id)
		if err != nil {
			if mail.IsNotFound(err) {
				// Expected race with concurrent deletion by another client.
				slog.Debug("message vanished before fetch",
					"account", f.AccountID,
					"folder", f.Fullname,
					"id", id,
				)
			}
			return nil, err
		}

		wasUnseen := m.Has(mail.FieldFlags) && !m.Seen()
		if wasUnseen {
			if markSeen {
				m.SetFlags(m.Flags | mail.FlagSeen)
				if s.cache != nil {
					s.cache.PatchFlags([]string{id}, f.AccountID, f.Fullname, s.userID, s.contextID, mail.FlagSeen, nil, true)
				}
			} else {
				if err := sess.Messages.UpdateFlags(ctx, f.Fullname, []string{id}, mail.FlagSeen, nil, false); err != nil {
					return nil, err
				}
				if s.cache != nil {
					s.cache.PatchFlags([]string{id}, f.AccountID, f.Fullname, s.userID, s.contextID, mail.FlagSeen, nil, false)
				}
			}
		}

		applyAccountDefaults([]*mail.Message{m}, sess.Account, 0)
		reconcileColors([]*mail.Message{m}, sess.Account)
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	s.spawnPreview(f, msg)
	return msg, nil
}

// GetThreadedMessages returns a thread-structured listing, trying the
// enhanced tier first and the basic tier second. Only a typed
// missing-capability error triggers the next tier; any other failure
// propagates immediately.
func (s *Service) GetThreadedMessages(ctx context.Context, folderID string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fieldSet mail.FieldSet, headers []string) ([]*mail.Message, error) {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Empty() {
		return []*mail.Message{}, nil
	}
	if err := s.checkSearchTerm(term); err != nil {
		return nil, err
	}

	return run(ctx, s, func(ctx context.Context) ([]*mail.Message, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return nil, err
		}
		acct := sess.Account

		wanted := fieldSet.Union(idAndFolder).With(mail.FieldThreadLevel)
		msgs, err := sess.Messages.ThreadedEnhanced(ctx, f.Fullname, r, sortBy, order, term, wanted, headers)
		if mail.IsUnsupported(err) {
			msgs, err = sess.Messages.ThreadedBasic(ctx, f.Fullname, r, sortBy, order, term, wanted, headers)
		}
		if mail.IsUnsupported(err) {
			return nil, mail.WrapError(mail.KindUnsupported, err, "structured threading not available on account %d", f.AccountID)
		}
		if err != nil {
			return nil, err
		}

		args := mail.FetchArguments{Folder: f, Fields: fieldSet, Headers: headers, Term: term, Sort: sortBy, Order: order}
		chain := s.registry.ChainFor(args, acct)
		msgs, _, err = chain.AfterFetch(ctx, msgs, false)
		if err != nil {
			return nil, err
		}
		applyAccountDefaults(msgs, acct, wanted)
		reconcileColors(msgs, acct)
		return msgs, nil
	})
}

// allPresent reports whether every message already carries every
// requested field (and headers when requested), making a second
// round-trip unnecessary.
func allPresent(msgs []*mail.Message, fieldSet mail.FieldSet, headers []string) bool {
	want := fieldSet
	if len(headers) > 0 {
		want = want.With(mail.FieldHeaders)
	}
	for _, m := range msgs {
		if !m.Present().Contains(want) {
			return false
		}
	}
	return true
}
