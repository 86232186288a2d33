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

package imapstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/bcem/mailgate/internal/mail"
	"github.com/bcem/mailgate/internal/storage"
)

// Exists implements storage.FolderStorage.
func (s *store) Exists(ctx context.Context, fullname string) (bool, error) {
	if err := s.pace(ctx); err != nil {
		return false, err
	}
	entries, err := s.client.List("", s.mailbox(fullname), nil).Collect()
	if err != nil {
		return false, classify(fmt.Errorf("list %s: %w", fullname, err))
	}
	return len(entries) > 0, nil
}

// Get implements storage.FolderStorage.
func (s *store) Get(ctx context.Context, fullname string) (*storage.Folder, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	entries, err := s.client.List("", s.mailbox(fullname), nil).Collect()
	if err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", fullname, err))
	}
	if len(entries) == 0 {
		return nil, mail.NewError(mail.KindNotFound, "folder %s does not exist", fullname)
	}
	f := s.convertFolder(entries[0])

	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	status, err := s.client.Status(s.mailbox(fullname), &imap.StatusOptions{
		NumMessages: true,
		NumUnseen:   true,
	}).Wait()
	if err != nil {
		return nil, classify(fmt.Errorf("status %s: %w", fullname, err))
	}
	if status.NumMessages != nil {
		f.MessageCount = int(*status.NumMessages)
	}
	if status.NumUnseen != nil {
		f.UnreadCount = int(*status.NumUnseen)
	}
	return &f, nil
}

// Create implements storage.FolderStorage. Creating an existing folder
// is not an error.
func (s *store) Create(ctx context.Context, fullname string) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	if err := s.client.Create(s.mailbox(fullname), nil).Wait(); err != nil {
		var ie *imap.Error
		if errors.As(err, &ie) && ie.Code == imap.ResponseCodeAlreadyExists {
			return nil
		}
		return classify(fmt.Errorf("create %s: %w", fullname, err))
	}
	return nil
}

// Subfolders implements storage.FolderStorage.
func (s *store) Subfolders(ctx context.Context, fullname string, recursive bool) ([]storage.Folder, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	wildcard := "%"
	if recursive {
		wildcard = "*"
	}
	pattern := s.mailbox(fullname) + string(s.delim) + wildcard
	entries, err := s.client.List("", pattern, nil).Collect()
	if err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", pattern, err))
	}
	out := make([]storage.Folder, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.convertFolder(e))
	}
	return out, nil
}

// DeleteFolder implements storage.FolderStorage. Subfolders are removed
// leaf-first because DELETE refuses non-empty hierarchies on some
// servers.
func (s *store) DeleteFolder(ctx context.Context, fullname string) error {
	subs, err := s.Subfolders(ctx, fullname, true)
	if err != nil {
		return err
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if err := s.deleteOne(ctx, subs[i].Fullname); err != nil {
			return err
		}
	}
	return s.deleteOne(ctx, fullname)
}

func (s *store) deleteOne(ctx context.Context, fullname string) error {
	if s.selected == fullname {
		s.selected = ""
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	if err := s.client.Delete(s.mailbox(fullname)).Wait(); err != nil {
		return classify(fmt.Errorf("delete folder %s: %w", fullname, err))
	}
	return nil
}

// TrashFolder implements storage.FolderStorage.
func (s *store) TrashFolder(ctx context.Context) (string, error) {
	if s.account.TrashFullname != "" {
		return s.account.TrashFullname, nil
	}
	return s.specialUse(ctx, imap.MailboxAttrTrash, []string{"Trash", "Deleted Items"})
}

// SpamFolder implements storage.FolderStorage.
func (s *store) SpamFolder(ctx context.Context) (string, error) {
	if s.account.SpamFullname != "" {
		return s.account.SpamFullname, nil
	}
	return s.specialUse(ctx, imap.MailboxAttrJunk, []string{"Spam", "Junk"})
}

// ArchiveFolder implements storage.FolderStorage.
func (s *store) ArchiveFolder(ctx context.Context) (string, error) {
	if s.account.ArchiveFullname != "" {
		return s.account.ArchiveFullname, nil
	}
	return s.specialUse(ctx, imap.MailboxAttrArchive, []string{"Archive", "Archives"})
}

// specialUse resolves a folder role via the SPECIAL-USE attributes,
// falling back to conventional names. Empty means unassigned.
func (s *store) specialUse(ctx context.Context, attr imap.MailboxAttr, fallbacks []string) (string, error) {
	if err := s.pace(ctx); err != nil {
		return "", err
	}
	entries, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return "", classify(fmt.Errorf("list special-use folders: %w", err))
	}
	for _, e := range entries {
		for _, a := range e.Attrs {
			if a == attr {
				return s.fullname(e.Mailbox), nil
			}
		}
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[s.fullname(e.Mailbox)] = true
	}
	for _, name := range fallbacks {
		if known[name] {
			return name, nil
		}
	}
	return "", nil
}

func (s *store) convertFolder(e *imap.ListData) storage.Folder {
	fullname := s.fullname(e.Mailbox)
	name := fullname
	if i := strings.LastIndexByte(fullname, '/'); i >= 0 {
		name = fullname[i+1:]
	}
	hasChildren := false
	for _, a := range e.Attrs {
		if a == imap.MailboxAttrHasChildren {
			hasChildren = true
		}
	}
	return storage.Folder{
		Fullname:     fullname,
		Name:         name,
		HasSubfolder: hasChildren,
	}
}
