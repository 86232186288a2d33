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

	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/mail"
)

// CopyMessages copies the given messages and returns the destination IDs
// in input order.
func (s *Service) CopyMessages(ctx context.Context, sourceFolderID, destFolderID string, ids []string) ([]string, error) {
	return s.transfer(ctx, sourceFolderID, destFolderID, ids, false)
}

// MoveMessages moves the given messages and returns the destination IDs
// in input order. A move into the account's spam folder reports the
// messages as spam, a move out of it reports them as ham; bookkeeping
// failures abort the move.
func (s *Service) MoveMessages(ctx context.Context, sourceFolderID, destFolderID string, ids []string) ([]string, error) {
	return s.transfer(ctx, sourceFolderID, destFolderID, ids, true)
}

func (s *Service) transfer(ctx context.Context, sourceFolderID, destFolderID string, ids []string, move bool) ([]string, error) {
	src, err := mail.ParseFolderID(sourceFolderID)
	if err != nil {
		return nil, err
	}
	dst, err := mail.ParseFolderID(destFolderID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	if src == dst {
		return nil, mail.NewError(mail.KindInvalidInput, "source and destination folder are identical: %s", src)
	}

	destIDs, err := run(ctx, s, func(ctx context.Context) ([]string, error) {
		if src.AccountID == dst.AccountID {
			return s.transferSameAccount(ctx, src, dst, ids, move)
		}
		return s.transferCrossAccount(ctx, src, dst, ids, move)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if move {
			s.cache.Remove(src.AccountID, src.Fullname, s.userID, s.contextID, ids)
		}
		s.cache.InvalidateFolder(dst.AccountID, dst.Fullname, s.userID, s.contextID)
	}
	if move {
		s.emitFolderEvent(ctx, events.KindFolderChanged, src.AccountID, src.Fullname)
	}
	s.emitFolderEvent(ctx, events.KindFolderChanged, dst.AccountID, dst.Fullname)
	return destIDs, nil
}

func (s *Service) transferSameAccount(ctx context.Context, src, dst mail.FolderID, ids []string, move bool) ([]string, error) {
	sess, err := s.conns.Ensure(ctx, src.AccountID)
	if err != nil {
		return nil, err
	}

	// Classification must precede the transfer so a bookkeeping failure
	// leaves the mailbox untouched.
	if move {
		if err := s.classify(ctx, sess.Folders, src, dst, ids); err != nil {
			return nil, err
		}
	}

	// The backend transfer can set \Seen as a side effect, so the
	// pre-transfer state is captured and restored on the copies.
	unseen, err := s.unseenSet(ctx, sess.Messages, src.Fullname, ids)
	if err != nil {
		return nil, err
	}

	var destIDs []string
	if move {
		destIDs, err = sess.Messages.Move(ctx, src.Fullname, dst.Fullname, ids)
	} else {
		destIDs, err = sess.Messages.Copy(ctx, src.Fullname, dst.Fullname, ids)
	}
	if err != nil {
		return nil, err
	}

	if err := s.restoreUnseen(ctx, sess.Messages, dst.Fullname, ids, destIDs, unseen); err != nil {
		return nil, err
	}
	return destIDs, nil
}

// transferCrossAccount moves or copies between two accounts by fetching
// the raw content from the source and appending it to the destination,
// in chunks so neither session holds the whole batch in memory.
func (s *Service) transferCrossAccount(ctx context.Context, src, dst mail.FolderID, ids []string, move bool) ([]string, error) {
	if move {
		sess, err := s.conns.Ensure(ctx, src.AccountID)
		if err != nil {
			return nil, err
		}
		if err := s.classify(ctx, sess.Folders, src, dst, ids); err != nil {
			return nil, err
		}
	}

	destIDs := make([]string, 0, len(ids))
	chunkSize := s.cfg.MoveChunkSize
	if chunkSize <= 0 {
		chunkSize = len(ids)
	}

	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		// The manager holds one session at a time, so each chunk
		// re-ensures the source, then the destination.
		srcSess, err := s.conns.Ensure(ctx, src.AccountID)
		if err != nil {
			return nil, err
		}
		msgs, err := srcSess.Messages.FetchFull(ctx, src.Fullname, chunk)
		if err != nil {
			return nil, err
		}
		unseen := make(map[string]bool, len(msgs))
		for _, m := range msgs {
			if m.Has(mail.FieldFlags) && !m.Seen() {
				unseen[m.ID] = true
			}
		}

		dstSess, err := s.conns.Ensure(ctx, dst.AccountID)
		if err != nil {
			return nil, err
		}
		appended, err := dstSess.Messages.Append(ctx, dst.Fullname, msgs)
		if err != nil {
			return nil, err
		}
		if err := s.restoreUnseen(ctx, dstSess.Messages, dst.Fullname, chunk, appended, unseen); err != nil {
			return nil, err
		}

		if move {
			srcSess, err = s.conns.Ensure(ctx, src.AccountID)
			if err != nil {
				return nil, err
			}
			if err := srcSess.Messages.Delete(ctx, src.Fullname, chunk, true); err != nil {
				return nil, err
			}
		}
		destIDs = append(destIDs, appended...)

		slog.Debug("cross-account chunk transferred",
			"source", src.String(),
			"dest", dst.String(),
			"messages", len(chunk),
			"move", move,
		)
	}
	return destIDs, nil
}

// classify reports moved messages to the spam handler when the move
// crosses the spam folder boundary. Errors propagate and abort the move.
func (s *Service) classify(ctx context.Context, folders folderRoles, src, dst mail.FolderID, ids []string) error {
	if s.spam == nil {
		return nil
	}
	spamFolder, err := folders.SpamFolder(ctx)
	if err != nil || spamFolder == "" {
		return err
	}
	switch {
	case dst.Fullname == spamFolder && src.Fullname != spamFolder:
		if err := s.spam.HandleSpam(ctx, src.AccountID, src.Fullname, ids); err != nil {
			return mail.WrapError(mail.KindUnexpected, err, "spam bookkeeping failed for %d messages", len(ids))
		}
	case src.Fullname == spamFolder && dst.Fullname != spamFolder:
		if err := s.spam.HandleHam(ctx, src.AccountID, src.Fullname, ids); err != nil {
			return mail.WrapError(mail.KindUnexpected, err, "ham bookkeeping failed for %d messages", len(ids))
		}
	}
	return nil
}

// folderRoles is the slice of FolderStorage classify needs.
type folderRoles interface {
	SpamFolder(ctx context.Context) (string, error)
}

// unseenSet fetches the flags of the listed messages and returns the IDs
// currently lacking \Seen.
func (s *Service) unseenSet(ctx context.Context, store flagFetcher, folder string, ids []string) (map[string]bool, error) {
	msgs, err := store.Fetch(ctx, folder, ids, mail.NewFieldSet(mail.FieldID, mail.FieldFlags), nil)
	if err != nil {
		return nil, err
	}
	unseen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if !m.Seen() {
			unseen[m.ID] = true
		}
	}
	return unseen, nil
}

type flagFetcher interface {
	Fetch(ctx context.Context, folder string, ids []string, fields mail.FieldSet, headers []string) ([]*mail.Message, error)
	UpdateFlags(ctx context.Context, folder string, ids []string, flags int32, userFlags []string, value bool) error
}

// restoreUnseen clears \Seen on the destination copies of messages that
// were unseen at the source, using the source-to-destination ID
// correspondence of the transfer call.
func (s *Service) restoreUnseen(ctx context.Context, store flagFetcher, destFolder string, sourceIDs, destIDs []string, unseen map[string]bool) error {
	if len(unseen) == 0 {
		return nil
	}
	var clear []string
	for i, srcID := range sourceIDs {
		if unseen[srcID] && i < len(destIDs) {
			clear = append(clear, destIDs[i])
		}
	}
	if len(clear) == 0 {
		return nil
	}
	return store.UpdateFlags(ctx, destFolder, clear, mail.FlagSeen, nil, false)
}
