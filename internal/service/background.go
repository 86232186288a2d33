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
	"fmt"
	"log/slog"

	"github.com/bcem/mailgate/internal/conn"
	"github.com/bcem/mailgate/internal/fields"
	"github.com/bcem/mailgate/internal/mail"
)

// WarmFolder populates the shared cache for a folder ahead of the next
// listing. Intended to run in the background after a change event; it
// never fails the surrounding operation, it only logs. The cross-process
// guard ensures at most one warmer per folder at a time.
func (s *Service) WarmFolder(ctx context.Context, folderID string) {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		slog.Warn("cache warm skipped, bad folder identifier", "folder", folderID, "error", err)
		return
	}
	if s.cache == nil {
		return
	}

	if s.guard != nil {
		key := fmt.Sprintf("warm:%d:%d:%d:%s", s.userID, s.contextID, f.AccountID, f.Fullname)
		ok, err := s.guard.TryLock(ctx, key)
		if err != nil {
			slog.Warn("cache warm guard unavailable", "folder", f.String(), "error", err)
			return
		}
		if !ok {
			slog.Debug("cache warm already in progress elsewhere", "folder", f.String())
			return
		}
	}

	s.bg.Go(func() error {
		// Population must tolerate the caller having already returned,
		// so it runs detached from the request context.
		s.warmFolder(context.Background(), f)
		return nil
	})
}

// warmFolder lists the folder with the cache-required field set on its
// own connection. The request's manager is not safe to share with
// background work.
func (s *Service) warmFolder(ctx context.Context, f mail.FolderID) {
	mgr := conn.NewManager(s.accounts, s.dialer, s.userID, s.contextID, false)
	defer mgr.Close()

	sess, err := mgr.Ensure(ctx, f.AccountID)
	if err != nil {
		slog.Warn("cache warm connect failed", "folder", f.String(), "error", err)
		return
	}

	msgs, err := sess.Messages.Search(ctx, f.Fullname, nil, mail.SortReceivedDate, mail.OrderDesc, nil, fields.CacheRequired, nil)
	if err != nil {
		slog.Warn("cache warm listing failed", "folder", f.String(), "error", err)
		return
	}
	if len(msgs) >= s.cfg.FetchLimit {
		// Folders at or above the fetch limit are never cached wholesale.
		slog.Debug("cache warm skipped, folder above fetch limit",
			"folder", f.String(),
			"messages", len(msgs),
		)
		return
	}

	applyAccountDefaults(msgs, sess.Account, fields.CacheRequired)
	reconcileColors(msgs, sess.Account)
	s.cache.Put(f.AccountID, msgs, s.userID, s.contextID)

	slog.Debug("folder cache warmed", "folder", f.String(), "messages", len(msgs))
}

// spawnPreview kicks off best-effort text preview generation for a
// message that was fetched without one. The result lands in the cache
// for the next listing; failures only log.
func (s *Service) spawnPreview(f mail.FolderID, msg *mail.Message) {
	if s.previewer == nil || msg == nil {
		return
	}
	if !msg.Has(mail.FieldAttachment) || !msg.HasAttachment || msg.Has(mail.FieldTextPreview) {
		return
	}
	id := msg.ID
	s.bg.Go(func() error {
		ctx := context.Background()
		preview, err := s.previewer.GeneratePreview(ctx, f.AccountID, f.Fullname, id)
		if err != nil {
			slog.Debug("preview generation failed",
				"folder", f.String(),
				"id", id,
				"error", err,
			)
			return nil
		}
		if s.cache != nil {
			s.cache.PatchPreview([]string{id}, f.AccountID, f.Fullname, s.userID, s.contextID, preview)
		}
		return nil
	})
}
