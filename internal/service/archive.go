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
	"strconv"
	"time"

	"github.com/bcem/mailgate/internal/conn"
	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/mail"
)

// ArchiveMailFolder moves messages older than the given number of days
// out of the folder into per-year subfolders of the account's archive
// folder (for example Archive/2024), creating the archive folder and
// year buckets on demand. Returns the number of archived messages.
func (s *Service) ArchiveMailFolder(ctx context.Context, folderID string, days int) (int, error) {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return 0, err
	}
	if days < 0 {
		return 0, mail.NewError(mail.KindInvalidInput, "archive age must not be negative: %d", days)
	}

	type result struct {
		moved   int
		buckets []string
	}
	res, err := run(ctx, s, func(ctx context.Context) (result, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return result{}, err
		}

		archive, err := s.archiveRoot(ctx, sess)
		if err != nil {
			return result{}, err
		}
		if f.Fullname == archive || f.IsSubfolderOf(archive) {
			return result{}, mail.NewError(mail.KindInvalidInput, "cannot archive the archive folder itself: %s", f.Fullname)
		}

		cutoff := time.Now().AddDate(0, 0, -days)
		term := &mail.SearchTerm{Before: cutoff}
		msgs, err := sess.Messages.Search(ctx, f.Fullname, nil, mail.SortReceivedDate, mail.OrderAsc, term,
			mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldReceivedDate), nil)
		if err != nil {
			return result{}, err
		}
		if len(msgs) == 0 {
			return result{}, nil
		}

		byYear := make(map[int][]string)
		for _, m := range msgs {
			byYear[m.ReceivedDate.Year()] = append(byYear[m.ReceivedDate.Year()], m.ID)
		}

		r := result{}
		for year, ids := range byYear {
			bucket := archive + "/" + strconv.Itoa(year)
			if err := ensureFolder(ctx, sess, bucket); err != nil {
				return result{}, err
			}
			if _, err := sess.Messages.Move(ctx, f.Fullname, bucket, ids); err != nil {
				return result{}, err
			}
			r.moved += len(ids)
			r.buckets = append(r.buckets, bucket)
		}
		return r, nil
	})
	if err != nil {
		return 0, err
	}
	if res.moved == 0 {
		return 0, nil
	}

	if s.cache != nil {
		s.cache.InvalidateFolder(f.AccountID, f.Fullname, s.userID, s.contextID)
		for _, bucket := range res.buckets {
			s.cache.InvalidateFolder(f.AccountID, bucket, s.userID, s.contextID)
		}
	}
	s.emitFolderEvent(ctx, events.KindFolderChanged, f.AccountID, f.Fullname)
	for _, bucket := range res.buckets {
		s.emitFolderEvent(ctx, events.KindFolderChanged, f.AccountID, bucket)
	}

	slog.Info("folder archived",
		"account", f.AccountID,
		"folder", f.Fullname,
		"messages", res.moved,
		"buckets", len(res.buckets),
	)
	return res.moved, nil
}

// archiveRoot resolves the archive folder for the session's account:
// the account setting first, the backend's designated folder second,
// the configured default last.
func (s *Service) archiveRoot(ctx context.Context, sess *conn.Session) (string, error) {
	if sess.Account.ArchiveFullname != "" {
		return sess.Account.ArchiveFullname, nil
	}
	name, err := sess.Folders.ArchiveFolder(ctx)
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}
	name = s.cfg.ArchiveFolder
	if err := ensureFolder(ctx, sess, name); err != nil {
		return "", err
	}
	return name, nil
}

func ensureFolder(ctx context.Context, sess *conn.Session, fullname string) error {
	exists, err := sess.Folders.Exists(ctx, fullname)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return sess.Folders.Create(ctx, fullname)
}

// DeleteMessages removes the given messages. Without hard the backend
// routes them through the trash folder, which also changes; with hard
// they are expunged directly.
func (s *Service) DeleteMessages(ctx context.Context, folderID string, ids []string, hard bool) error {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	trash, err := run(ctx, s, func(ctx context.Context) (string, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return "", err
		}
		trash := ""
		if !hard {
			trash, err = sess.Folders.TrashFolder(ctx)
			if err != nil {
				return "", err
			}
			// Deleting inside the trash folder always expunges.
			if trash == "" || f.Fullname == trash {
				hard = true
				trash = ""
			}
		}
		return trash, sess.Messages.Delete(ctx, f.Fullname, ids, hard)
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Remove(f.AccountID, f.Fullname, s.userID, s.contextID, ids)
		if trash != "" {
			s.cache.InvalidateFolder(f.AccountID, trash, s.userID, s.contextID)
		}
	}
	s.emitFolderEvent(ctx, events.KindFolderChanged, f.AccountID, f.Fullname)
	if trash != "" {
		s.emitFolderEvent(ctx, events.KindFolderChanged, f.AccountID, trash)
	}
	return nil
}

// DeleteFolder removes a folder and its whole subtree. The remote
// deletion may cascade silently, so the subtree is captured first and
// every removed folder gets its own deletion event afterwards.
func (s *Service) DeleteFolder(ctx context.Context, folderID string) error {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return err
	}

	affected, err := run(ctx, s, func(ctx context.Context) ([]string, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return nil, err
		}
		subs, err := sess.Folders.Subfolders(ctx, f.Fullname, true)
		if err != nil {
			return nil, err
		}
		affected := []string{f.Fullname}
		for _, sub := range subs {
			affected = append(affected, sub.Fullname)
		}
		if err := sess.Folders.DeleteFolder(ctx, f.Fullname); err != nil {
			return nil, err
		}
		return affected, nil
	})
	if err != nil {
		return err
	}

	for _, fullname := range affected {
		if s.cache != nil {
			s.cache.InvalidateFolder(f.AccountID, fullname, s.userID, s.contextID)
		}
		s.emitFolderEvent(ctx, events.KindFolderDeleted, f.AccountID, fullname)
	}
	return nil
}
