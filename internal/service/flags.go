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

	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/mail"
)

// UpdateMessageFlags sets (value=true) or clears the given system flag
// bits and user flags. A nil ids slice targets every message in the
// folder: when the session exposes the whole-folder capability it is a
// single batch call, otherwise the IDs are enumerated first and updated
// in one pass. Either way the caller observes exactly one folder event.
func (s *Service) UpdateMessageFlags(ctx context.Context, folderID string, ids []string, flags int32, userFlags []string, value bool) error {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return err
	}
	if ids != nil && len(ids) == 0 {
		return nil
	}

	_, err = run(ctx, s, func(ctx context.Context) (struct{}, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return struct{}{}, err
		}

		if ids == nil {
			if sess.Caps.BatchFlags != nil {
				err = sess.Caps.BatchFlags.UpdateAllFlags(ctx, f.Fullname, flags, userFlags, value)
			} else {
				all, serr := sess.Messages.Search(ctx, f.Fullname, nil, mail.SortReceivedDate, mail.OrderAsc, nil, mail.NewFieldSet(mail.FieldID), nil)
				if serr != nil {
					return struct{}{}, serr
				}
				if len(all) > 0 {
					err = sess.Messages.UpdateFlags(ctx, f.Fullname, messageIDs(all), flags, userFlags, value)
				}
			}
		} else {
			err = sess.Messages.UpdateFlags(ctx, f.Fullname, ids, flags, userFlags, value)
		}
		return struct{}{}, err
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.PatchFlags(ids, f.AccountID, f.Fullname, s.userID, s.contextID, flags, userFlags, value)
	}
	s.emitFolderEvent(ctx, events.KindFolderChanged, f.AccountID, f.Fullname)
	return nil
}

// UpdateMessageColorLabel assigns the colour label on the listed
// messages. A nil ids slice targets the whole folder.
func (s *Service) UpdateMessageColorLabel(ctx context.Context, folderID string, ids []string, label int) error {
	f, err := mail.ParseFolderID(folderID)
	if err != nil {
		return err
	}
	if ids != nil && len(ids) == 0 {
		return nil
	}

	_, err = run(ctx, s, func(ctx context.Context) (struct{}, error) {
		sess, err := s.conns.Ensure(ctx, f.AccountID)
		if err != nil {
			return struct{}{}, err
		}
		target := ids
		if target == nil {
			all, serr := sess.Messages.Search(ctx, f.Fullname, nil, mail.SortReceivedDate, mail.OrderAsc, nil, mail.NewFieldSet(mail.FieldID), nil)
			if serr != nil {
				return struct{}{}, serr
			}
			target = messageIDs(all)
		}
		if len(target) == 0 {
			return struct{}{}, nil
		}
		return struct{}{}, sess.Messages.UpdateColorLabel(ctx, f.Fullname, target, label)
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.PatchColorLabel(ids, f.AccountID, f.Fullname, s.userID, s.contextID, label)
	}
	s.emitFolderEvent(ctx, events.KindFolderChanged, f.AccountID, f.Fullname)
	return nil
}
