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
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/conn"
	"github.com/bcem/mailgate/internal/mail"
	"github.com/bcem/mailgate/internal/storage"
)

// fakeBackend is an in-memory message store standing in for a remote
// mailbox. It implements both storage contracts plus the batch flag
// capability.
type fakeBackend struct {
	mu   sync.Mutex
	msgs map[string][]*mail.Message

	trash, spam, archive string

	searches      int
	fetches       int
	transientLeft int

	enhancedErr error
	basicErr    error

	spamCalls []string
	hamCalls  []string
	spamErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		msgs:  make(map[string][]*mail.Message),
		trash: "Trash",
		spam:  "Spam",
		enhancedErr: mail.NewError(mail.KindUnsupported,
			"enhanced threading not available"),
	}
}

var testUID = 1000

func newMsg(folder string, received time.Time, flags int32) *mail.Message {
	testUID++
	m := &mail.Message{}
	m.SetID(strconv.Itoa(testUID))
	m.SetFolder(folder)
	m.SetSubject("subject " + m.ID)
	m.SetFrom([]mail.Address{{Address: "sender@example.com"}})
	m.SetTo([]mail.Address{{Address: "rcpt@example.com"}})
	m.SetReceivedDate(received)
	m.SetSentDate(received.Add(-time.Minute))
	m.SetSize(int64(100 + testUID))
	m.SetFlags(flags)
	m.SetColorLabel(0)
	m.SetHeaders(map[string][]string{"Message-Id": {"<" + m.ID + "@example.com>"}})
	m.Raw = []byte("raw " + m.ID)
	return m
}

func (b *fakeBackend) put(m *mail.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs[m.Folder] = append(b.msgs[m.Folder], m)
}

func (b *fakeBackend) find(folder, id string) *mail.Message {
	for _, m := range b.msgs[folder] {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (b *fakeBackend) failTransient() error {
	if b.transientLeft > 0 {
		b.transientLeft--
		return mail.NewError(mail.KindConnectionTransient, "connection dropped")
	}
	return nil
}

// project copies only the requested attributes so presence tracking in
// the pipeline sees realistic partial messages.
func project(m *mail.Message, fields mail.FieldSet) *mail.Message {
	out := &mail.Message{}
	c := m.Clone()
	for _, f := range fields.Fields() {
		switch f {
		case mail.FieldID:
			out.SetID(c.ID)
		case mail.FieldFolderID:
			out.SetFolder(c.Folder)
		case mail.FieldContentType:
			out.SetContentType(c.ContentType)
		case mail.FieldFrom:
			out.SetFrom(c.From)
		case mail.FieldTo:
			out.SetTo(c.To)
		case mail.FieldCc:
			out.SetCc(c.Cc)
		case mail.FieldBcc:
			out.SetBcc(c.Bcc)
		case mail.FieldSubject:
			out.SetSubject(c.Subject)
		case mail.FieldSize:
			out.SetSize(c.Size)
		case mail.FieldSentDate:
			out.SetSentDate(c.SentDate)
		case mail.FieldReceivedDate:
			out.SetReceivedDate(c.ReceivedDate)
		case mail.FieldFlags:
			out.SetFlags(c.Flags)
			out.SetUserFlags(c.UserFlags)
		case mail.FieldThreadLevel:
			out.SetThreadLevel(c.ThreadLevel)
		case mail.FieldPriority:
			out.SetPriority(c.Priority)
		case mail.FieldColorLabel:
			out.SetColorLabel(c.ColorLabel)
		case mail.FieldHeaders:
			out.SetHeaders(c.Headers)
		case mail.FieldAttachment:
			out.SetHasAttachment(c.HasAttachment)
		case mail.FieldTextPreview:
			out.SetTextPreview(c.TextPreview)
		case mail.FieldAccountName:
			out.SetAccountName(c.AccountName)
		}
	}
	return out
}

func (b *fakeBackend) Search(_ context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, _ []string) ([]*mail.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searches++
	if err := b.failTransient(); err != nil {
		return nil, err
	}
	// Sort on the stored messages before projecting: a minimal-field
	// request still comes back ordered, like a real server.
	var matched []*mail.Message
	for _, m := range b.msgs[folder] {
		if term.Matches(m) {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if order == mail.OrderDesc {
			return sortBy.Less(matched[j], matched[i])
		}
		return sortBy.Less(matched[i], matched[j])
	})
	if r != nil {
		if r.Start >= len(matched) {
			return []*mail.Message{}, nil
		}
		matched = matched[r.Start:min(r.End, len(matched))]
	}
	out := make([]*mail.Message, 0, len(matched))
	for _, m := range matched {
		out = append(out, project(m, fields))
	}
	return out, nil
}

func (b *fakeBackend) Fetch(_ context.Context, folder string, ids []string, fields mail.FieldSet, _ []string) ([]*mail.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if err := b.failTransient(); err != nil {
		return nil, err
	}
	out := make([]*mail.Message, 0, len(ids))
	for _, id := range ids {
		m := b.find(folder, id)
		if m == nil {
			return nil, mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		out = append(out, project(m, fields))
	}
	return out, nil
}

func (b *fakeBackend) GetMessage(_ context.Context, folder, id string) (*mail.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.find(folder, id)
	if m == nil {
		return nil, mail.NewError(mail.KindNotFound, "message %s not found", id)
	}
	out := m.Clone()
	// The body fetch marks the stored message seen, while the reply
	// still reports the pre-fetch flags.
	m.SetFlags(m.Flags | mail.FlagSeen)
	return out, nil
}

func (b *fakeBackend) FetchFull(_ context.Context, folder string, ids []string) ([]*mail.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*mail.Message, 0, len(ids))
	for _, id := range ids {
		m := b.find(folder, id)
		if m == nil {
			return nil, mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (b *fakeBackend) ThreadedEnhanced(ctx context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	if b.enhancedErr != nil {
		return nil, b.enhancedErr
	}
	return b.threaded(ctx, folder, r, sortBy, order, term, fields, headers, 2)
}

func (b *fakeBackend) ThreadedBasic(ctx context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	if b.basicErr != nil {
		return nil, b.basicErr
	}
	return b.threaded(ctx, folder, r, sortBy, order, term, fields, headers, 1)
}

func (b *fakeBackend) threaded(ctx context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string, level int) ([]*mail.Message, error) {
	msgs, err := b.Search(ctx, folder, r, sortBy, order, term, fields, headers)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.SetThreadLevel(level)
	}
	return msgs, nil
}

func (b *fakeBackend) Append(_ context.Context, folder string, msgs []*mail.Message) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		testUID++
		c := m.Clone()
		c.SetID(strconv.Itoa(testUID))
		c.SetFolder(folder)
		b.msgs[folder] = append(b.msgs[folder], c)
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (b *fakeBackend) Copy(_ context.Context, sourceFolder, destFolder string, ids []string) ([]string, error) {
	return b.transfer(sourceFolder, destFolder, ids, false)
}

func (b *fakeBackend) Move(_ context.Context, sourceFolder, destFolder string, ids []string) ([]string, error) {
	return b.transfer(sourceFolder, destFolder, ids, true)
}

func (b *fakeBackend) transfer(sourceFolder, destFolder string, ids []string, move bool) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	destIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		m := b.find(sourceFolder, id)
		if m == nil {
			return nil, mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		testUID++
		c := m.Clone()
		c.SetID(strconv.Itoa(testUID))
		c.SetFolder(destFolder)
		// Transfers lose the unseen state, like a real backend copy.
		c.SetFlags(c.Flags | mail.FlagSeen)
		b.msgs[destFolder] = append(b.msgs[destFolder], c)
		destIDs = append(destIDs, c.ID)
		if move {
			b.removeLocked(sourceFolder, id)
		}
	}
	return destIDs, nil
}

func (b *fakeBackend) removeLocked(folder, id string) {
	kept := b.msgs[folder][:0]
	for _, m := range b.msgs[folder] {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	b.msgs[folder] = kept
}

func (b *fakeBackend) Delete(_ context.Context, folder string, ids []string, hard bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		m := b.find(folder, id)
		if m == nil {
			return mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		if hard || folder == b.trash || b.trash == "" {
			b.removeLocked(folder, id)
			continue
		}
		c := m.Clone()
		c.SetFolder(b.trash)
		b.msgs[b.trash] = append(b.msgs[b.trash], c)
		b.removeLocked(folder, id)
	}
	return nil
}

func (b *fakeBackend) UpdateFlags(_ context.Context, folder string, ids []string, flags int32, userFlags []string, value bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		m := b.find(folder, id)
		if m == nil {
			return mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		if value {
			m.SetFlags(m.Flags | flags)
		} else {
			m.SetFlags(m.Flags &^ flags)
		}
	}
	return nil
}

func (b *fakeBackend) UpdateColorLabel(_ context.Context, folder string, ids []string, label int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		m := b.find(folder, id)
		if m == nil {
			return mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		m.SetColorLabel(label)
	}
	return nil
}

// batchBackend adds the whole-folder flag capability.
type batchBackend struct {
	*fakeBackend
	batchCalls int
}

func (b *batchBackend) UpdateAllFlags(_ context.Context, folder string, flags int32, userFlags []string, value bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batchCalls++
	for _, m := range b.msgs[folder] {
		if value {
			m.SetFlags(m.Flags | flags)
		} else {
			m.SetFlags(m.Flags &^ flags)
		}
	}
	return nil
}

func (b *fakeBackend) Exists(_ context.Context, fullname string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.msgs[fullname]
	return ok, nil
}

func (b *fakeBackend) Get(ctx context.Context, fullname string) (*storage.Folder, error) {
	ok, _ := b.Exists(ctx, fullname)
	if !ok {
		return nil, mail.NewError(mail.KindNotFound, "folder %s does not exist", fullname)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return &storage.Folder{Fullname: fullname, MessageCount: len(b.msgs[fullname])}, nil
}

func (b *fakeBackend) Create(_ context.Context, fullname string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.msgs[fullname]; !ok {
		b.msgs[fullname] = []*mail.Message{}
	}
	return nil
}

func (b *fakeBackend) Subfolders(_ context.Context, fullname string, recursive bool) ([]storage.Folder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []storage.Folder
	for name := range b.msgs {
		f := mail.FolderID{Fullname: name}
		if f.IsSubfolderOf(fullname) {
			out = append(out, storage.Folder{Fullname: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fullname < out[j].Fullname })
	return out, nil
}

func (b *fakeBackend) DeleteFolder(_ context.Context, fullname string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.msgs {
		f := mail.FolderID{Fullname: name}
		if name == fullname || f.IsSubfolderOf(fullname) {
			delete(b.msgs, name)
		}
	}
	return nil
}

func (b *fakeBackend) TrashFolder(context.Context) (string, error)   { return b.trash, nil }
func (b *fakeBackend) SpamFolder(context.Context) (string, error)    { return b.spam, nil }
func (b *fakeBackend) ArchiveFolder(context.Context) (string, error) { return b.archive, nil }

func (b *fakeBackend) HandleSpam(_ context.Context, accountID int, folder string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spamErr != nil {
		return b.spamErr
	}
	b.spamCalls = append(b.spamCalls, fmt.Sprintf("%d:%s:%d", accountID, folder, len(ids)))
	return nil
}

func (b *fakeBackend) HandleHam(_ context.Context, accountID int, folder string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spamErr != nil {
		return b.spamErr
	}
	b.hamCalls = append(b.hamCalls, fmt.Sprintf("%d:%s:%d", accountID, folder, len(ids)))
	return nil
}

// testDialer hands out sessions over per-account fake backends.
type testDialer struct {
	mu       sync.Mutex
	backends map[int]*fakeBackend
	batch    map[int]*batchBackend
	opens    int
}

func newTestDialer() *testDialer {
	return &testDialer{backends: make(map[int]*fakeBackend), batch: make(map[int]*batchBackend)}
}

func (d *testDialer) backend(accountID int) *fakeBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backends[accountID]
	if !ok {
		b = newFakeBackend()
		d.backends[accountID] = b
	}
	return b
}

func (d *testDialer) enableBatch(accountID int) *batchBackend {
	b := &batchBackend{fakeBackend: d.backend(accountID)}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batch[accountID] = b
	return b
}

func (d *testDialer) Open(ctx context.Context, acct *account.Account) (*conn.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := d.backend(acct.ID)
	d.mu.Lock()
	d.opens++
	caps := storage.Capabilities{}
	if bb, ok := d.batch[acct.ID]; ok {
		caps.BatchFlags = bb
	}
	d.mu.Unlock()
	return &conn.Session{Account: acct, Messages: b, Folders: b, Caps: caps}, nil
}
