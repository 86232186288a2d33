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
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"golang.org/x/time/rate"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/mail"
)

// store implements the message and folder storage contracts over one
// authenticated IMAP connection. Not safe for concurrent use; the
// connection manager serializes access.
type store struct {
	client  *imapclient.Client
	limiter *rate.Limiter
	account *account.Account
	delim   rune

	selected string
	readOnly bool
}

var idAndFolder = mail.NewFieldSet(mail.FieldID, mail.FieldFolderID)

func (s *store) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return mail.WrapError(mail.KindUnexpected, err, "rate limiter interrupted")
	}
	return nil
}

// selectFolder ensures the mailbox is selected in the required mode.
func (s *store) selectFolder(ctx context.Context, folder string, readOnly bool) error {
	if s.selected == folder && (readOnly || !s.readOnly) {
		return nil
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	opts := &imap.SelectOptions{ReadOnly: readOnly}
	if _, err := s.client.Select(s.mailbox(folder), opts).Wait(); err != nil {
		s.selected = ""
		return classify(fmt.Errorf("select %s: %w", folder, err))
	}
	s.selected = folder
	s.readOnly = readOnly
	return nil
}

// mailbox converts a slash-separated fullname into the server's
// hierarchy, and fullname does the reverse.
func (s *store) mailbox(fullname string) string {
	if s.delim == '/' {
		return fullname
	}
	return strings.ReplaceAll(fullname, "/", string(s.delim))
}

func (s *store) fullname(mailbox string) string {
	if s.delim == '/' {
		return mailbox
	}
	return strings.ReplaceAll(mailbox, string(s.delim), "/")
}

// Search implements storage.MessageStorage. Matching runs server-side;
// ordering and pagination run here because SEARCH result order carries
// no sort semantics.
func (s *store) Search(ctx context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	if err := s.selectFolder(ctx, folder, true); err != nil {
		return nil, err
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	data, err := s.client.UIDSearch(translateTerm(term), nil).Wait()
	if err != nil {
		return nil, classify(fmt.Errorf("search %s: %w", folder, err))
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return []*mail.Message{}, nil
	}

	// Minimal listings sorted by arrival ride on UID order directly.
	if fields == idAndFolder && len(headers) == 0 && sortBy == mail.SortReceivedDate {
		msgs := make([]*mail.Message, 0, len(uids))
		for _, uid := range uids {
			m := &mail.Message{}
			m.SetID(formatUID(uid))
			m.SetFolder(folder)
			msgs = append(msgs, m)
		}
		if order == mail.OrderDesc {
			reverse(msgs)
		}
		return sliceRange(msgs, r), nil
	}

	// Sorting needs the sort key present even when not requested.
	fetchSet := fields.With(sortKeyField(sortBy))
	msgs, err := s.fetch(ctx, folder, imap.UIDSetNum(uids...), len(uids), fetchSet, headers)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if order == mail.OrderDesc {
			return sortBy.Less(msgs[j], msgs[i])
		}
		return sortBy.Less(msgs[i], msgs[j])
	})
	return sliceRange(msgs, r), nil
}

// Fetch implements storage.MessageStorage.
func (s *store) Fetch(ctx context.Context, folder string, ids []string, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	if len(ids) == 0 {
		return []*mail.Message{}, nil
	}
	if err := s.selectFolder(ctx, folder, true); err != nil {
		return nil, err
	}
	uidSet, err := parseUIDs(ids)
	if err != nil {
		return nil, err
	}
	msgs, err := s.fetch(ctx, folder, uidSet, len(ids), fields, headers)
	if err != nil {
		return nil, err
	}
	return orderByIDs(msgs, ids)
}

// fetch issues one FETCH for the set and converts every reply.
func (s *store) fetch(ctx context.Context, folder string, uidSet imap.UIDSet, capacity int, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	opts, headerSection := fetchOptions(fields, headers)
	bufs, err := s.client.Fetch(uidSet, opts).Collect()
	if err != nil {
		return nil, classify(fmt.Errorf("fetch in %s: %w", folder, err))
	}
	msgs := make([]*mail.Message, 0, capacity)
	for _, buf := range bufs {
		msgs = append(msgs, populateMessage(buf, folder, fields, headerSection))
	}
	return msgs, nil
}

// fetchOptions derives the FETCH data items from the field set. The
// returned section is non-nil when a header block must be requested.
func fetchOptions(fields mail.FieldSet, headers []string) (*imap.FetchOptions, *imap.FetchItemBodySection) {
	opts := &imap.FetchOptions{UID: true}
	if fields.Has(mail.FieldFlags) || fields.Has(mail.FieldColorLabel) {
		opts.Flags = true
	}
	if fields.Has(mail.FieldReceivedDate) {
		opts.InternalDate = true
	}
	if fields.Has(mail.FieldSize) {
		opts.RFC822Size = true
	}
	if fields.Has(mail.FieldFrom) || fields.Has(mail.FieldTo) || fields.Has(mail.FieldCc) ||
		fields.Has(mail.FieldBcc) || fields.Has(mail.FieldSubject) || fields.Has(mail.FieldSentDate) {
		opts.Envelope = true
	}
	if fields.Has(mail.FieldContentType) || fields.Has(mail.FieldAttachment) {
		opts.BodyStructure = &imap.FetchItemBodyStructure{}
	}

	var section *imap.FetchItemBodySection
	switch {
	case fields.Has(mail.FieldHeaders):
		section = &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	case len(headers) > 0 || fields.Has(mail.FieldPriority):
		wanted := headers
		if fields.Has(mail.FieldPriority) {
			wanted = append(append([]string(nil), headers...), "X-Priority")
		}
		section = &imap.FetchItemBodySection{
			Specifier:    imap.PartSpecifierHeader,
			HeaderFields: wanted,
			Peek:         true,
		}
	}
	if section != nil {
		opts.BodySection = append(opts.BodySection, section)
	}
	return opts, section
}

// GetMessage implements storage.MessageStorage. Fetching the body
// without peek marks the message seen server-side.
func (s *store) GetMessage(ctx context.Context, folder, id string) (*mail.Message, error) {
	return s.fetchWhole(ctx, folder, id, false)
}

// FetchFull implements storage.MessageStorage; body fetches peek so the
// seen state survives a cross-account transfer.
func (s *store) FetchFull(ctx context.Context, folder string, ids []string) ([]*mail.Message, error) {
	msgs := make([]*mail.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.fetchWhole(ctx, folder, id, true)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *store) fetchWhole(ctx context.Context, folder, id string, peek bool) (*mail.Message, error) {
	if err := s.selectFolder(ctx, folder, peek); err != nil {
		return nil, err
	}
	uidSet, err := parseUIDs([]string{id})
	if err != nil {
		return nil, err
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: peek}
	opts := &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		Envelope:      true,
		InternalDate:  true,
		RFC822Size:    true,
		BodyStructure: &imap.FetchItemBodyStructure{},
		BodySection:   []*imap.FetchItemBodySection{bodySection},
	}
	bufs, err := s.client.Fetch(uidSet, opts).Collect()
	if err != nil {
		return nil, classify(fmt.Errorf("fetch message %s in %s: %w", id, folder, err))
	}
	if len(bufs) == 0 {
		return nil, mail.NewError(mail.KindNotFound, "message %s not found in %s", id, folder)
	}

	full := mail.AllFields
	set := mail.NewFieldSet(full...).Without(mail.FieldTextPreview, mail.FieldThreadLevel, mail.FieldAccountName, mail.FieldHeaders)
	m := populateMessage(bufs[0], folder, set, nil)
	raw := bufs[0].FindBodySection(bodySection)
	m.Raw = raw
	m.SetHeaders(parseHeaders(headerBlock(raw)))
	return m, nil
}

// headerBlock cuts the header part off a raw RFC822 message.
func headerBlock(raw []byte) []byte {
	if i := strings.Index(string(raw), "\r\n\r\n"); i >= 0 {
		return raw[:i+4]
	}
	return raw
}

// ThreadedEnhanced implements storage.MessageStorage. The protocol
// library exposes no server-side THREAD command, so this tier is
// unavailable and callers fall through to the basic tier.
func (s *store) ThreadedEnhanced(ctx context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	return nil, mail.NewError(mail.KindUnsupported, "server-side threading not available")
}

// ThreadedBasic implements storage.MessageStorage by threading on the
// References and In-Reply-To chains client-side.
func (s *store) ThreadedBasic(ctx context.Context, folder string, r *mail.IndexRange, sortBy mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error) {
	wanted := append([]string{"Message-Id", "In-Reply-To", "References"}, headers...)
	msgs, err := s.Search(ctx, folder, nil, sortBy, order, term, fields, wanted)
	if err != nil {
		return nil, err
	}
	threaded := threadByReferences(msgs)
	return sliceRange(threaded, r), nil
}

// Append implements storage.MessageStorage.
func (s *store) Append(ctx context.Context, folder string, msgs []*mail.Message) ([]string, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
		var opts *imap.AppendOptions
		if m.Has(mail.FieldReceivedDate) {
			opts = &imap.AppendOptions{Time: m.ReceivedDate}
		}
		if m.Has(mail.FieldFlags) {
			if opts == nil {
				opts = &imap.AppendOptions{}
			}
			opts.Flags = imapFlags(m.Flags, m.UserFlags)
		}

		cmd := s.client.Append(s.mailbox(folder), int64(len(m.Raw)), opts)
		if _, err := cmd.Write(m.Raw); err != nil {
			_ = cmd.Close()
			return nil, classify(fmt.Errorf("append to %s: %w", folder, err))
		}
		if err := cmd.Close(); err != nil {
			return nil, classify(fmt.Errorf("append close: %w", err))
		}
		data, err := cmd.Wait()
		if err != nil {
			return nil, classify(fmt.Errorf("append to %s: %w", folder, err))
		}
		if data == nil || data.UID == 0 {
			return nil, mail.NewError(mail.KindUnsupported, "server did not report the appended message identifier")
		}
		ids = append(ids, formatUID(data.UID))
	}
	return ids, nil
}

// Copy implements storage.MessageStorage, relying on the COPYUID
// response to report the destination identifiers.
func (s *store) Copy(ctx context.Context, sourceFolder, destFolder string, ids []string) ([]string, error) {
	if err := s.selectFolder(ctx, sourceFolder, false); err != nil {
		return nil, err
	}
	uidSet, err := parseUIDs(ids)
	if err != nil {
		return nil, err
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	data, err := s.client.Copy(uidSet, s.mailbox(destFolder)).Wait()
	if err != nil {
		return nil, classify(fmt.Errorf("copy %s to %s: %w", sourceFolder, destFolder, err))
	}
	return mapCopiedUIDs(ids, data)
}

// Move implements storage.MessageStorage as copy plus expunge, which
// also covers servers lacking the MOVE extension.
func (s *store) Move(ctx context.Context, sourceFolder, destFolder string, ids []string) ([]string, error) {
	destIDs, err := s.Copy(ctx, sourceFolder, destFolder, ids)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(ctx, sourceFolder, ids, true); err != nil {
		return nil, err
	}
	return destIDs, nil
}

func mapCopiedUIDs(ids []string, data *imap.CopyData) ([]string, error) {
	if data == nil {
		return nil, mail.NewError(mail.KindUnsupported, "server did not report copied message identifiers")
	}
	src, ok1 := data.SourceUIDs.Nums()
	dst, ok2 := data.DestUIDs.Nums()
	if !ok1 || !ok2 || len(src) != len(dst) {
		return nil, mail.NewError(mail.KindUnexpected, "unusable copy response for %d messages", len(ids))
	}
	byID := make(map[string]string, len(src))
	for i := range src {
		byID[formatUID(src[i])] = formatUID(dst[i])
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		dest, ok := byID[id]
		if !ok {
			return nil, mail.NewError(mail.KindNotFound, "message %s missing from copy response", id)
		}
		out = append(out, dest)
	}
	return out, nil
}

// Delete implements storage.MessageStorage. Soft deletion moves to the
// trash folder; deleting in the trash, or with hard set, expunges.
func (s *store) Delete(ctx context.Context, folder string, ids []string, hard bool) error {
	if !hard {
		trash, err := s.TrashFolder(ctx)
		if err != nil {
			return err
		}
		if trash != "" && trash != folder {
			_, err := s.Move(ctx, folder, trash, ids)
			return err
		}
	}

	if err := s.selectFolder(ctx, folder, false); err != nil {
		return err
	}
	uidSet, err := parseUIDs(ids)
	if err != nil {
		return err
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	storeCmd := s.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return classify(fmt.Errorf("mark deleted in %s: %w", folder, err))
	}
	if err := s.client.Expunge().Close(); err != nil {
		return classify(fmt.Errorf("expunge %s: %w", folder, err))
	}
	return nil
}

// UpdateFlags implements storage.MessageStorage.
func (s *store) UpdateFlags(ctx context.Context, folder string, ids []string, flags int32, userFlags []string, value bool) error {
	uidSet, err := parseUIDs(ids)
	if err != nil {
		return err
	}
	return s.storeFlags(ctx, folder, uidSet, imapFlags(flags, userFlags), value)
}

// UpdateAllFlags implements storage.BatchFlagUpdater with a whole-folder
// search and a single store.
func (s *store) UpdateAllFlags(ctx context.Context, folder string, flags int32, userFlags []string, value bool) error {
	if err := s.selectFolder(ctx, folder, false); err != nil {
		return err
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	data, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return classify(fmt.Errorf("search %s: %w", folder, err))
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	return s.storeFlags(ctx, folder, imap.UIDSetNum(uids...), imapFlags(flags, userFlags), value)
}

// UpdateColorLabel implements storage.MessageStorage. The old label
// keyword is cleared before the new one is set.
func (s *store) UpdateColorLabel(ctx context.Context, folder string, ids []string, label int) error {
	uidSet, err := parseUIDs(ids)
	if err != nil {
		return err
	}
	if err := s.storeFlags(ctx, folder, uidSet, allColorKeywords(), false); err != nil {
		return err
	}
	if label <= 0 {
		return nil
	}
	return s.storeFlags(ctx, folder, uidSet, []imap.Flag{colorKeyword(label)}, true)
}

func (s *store) storeFlags(ctx context.Context, folder string, uidSet imap.UIDSet, flags []imap.Flag, value bool) error {
	if len(flags) == 0 {
		return nil
	}
	if err := s.selectFolder(ctx, folder, false); err != nil {
		return err
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	op := imap.StoreFlagsAdd
	if !value {
		op = imap.StoreFlagsDel
	}
	cmd := s.client.Store(uidSet, &imap.StoreFlags{Op: op, Silent: true, Flags: flags}, nil)
	if err := cmd.Close(); err != nil {
		return classify(fmt.Errorf("store flags in %s: %w", folder, err))
	}
	return nil
}

func orderByIDs(msgs []*mail.Message, ids []string) ([]*mail.Message, error) {
	byID := make(map[string]*mail.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	out := make([]*mail.Message, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, mail.NewError(mail.KindNotFound, "message %s not found", id)
		}
		out = append(out, m)
	}
	return out, nil
}

func sortKeyField(sortBy mail.SortField) mail.Field {
	switch sortBy {
	case mail.SortSentDate:
		return mail.FieldSentDate
	case mail.SortSubject:
		return mail.FieldSubject
	case mail.SortFrom:
		return mail.FieldFrom
	case mail.SortTo:
		return mail.FieldTo
	case mail.SortSize:
		return mail.FieldSize
	case mail.SortColorLabel:
		return mail.FieldColorLabel
	default:
		return mail.FieldReceivedDate
	}
}

func sliceRange(msgs []*mail.Message, r *mail.IndexRange) []*mail.Message {
	if r == nil {
		return msgs
	}
	if r.Start >= len(msgs) {
		return []*mail.Message{}
	}
	end := min(r.End, len(msgs))
	return msgs[r.Start:end]
}

func reverse(msgs []*mail.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

type threadNode struct {
	msg      *mail.Message
	children []*threadNode
}

// threadByReferences groups messages into reply chains and flattens
// them depth-first, stamping the nesting depth on each message. Roots
// keep their incoming relative order.
func threadByReferences(msgs []*mail.Message) []*mail.Message {
	byMessageID := make(map[string]*threadNode, len(msgs))
	nodes := make([]*threadNode, 0, len(msgs))
	for _, m := range msgs {
		n := &threadNode{msg: m}
		nodes = append(nodes, n)
		if mid := firstHeader(m, "Message-Id"); mid != "" {
			byMessageID[mid] = n
		}
	}

	var roots []*threadNode
	for _, n := range nodes {
		parent := resolveParent(n.msg, byMessageID)
		if parent != nil && parent != n {
			parent.children = append(parent.children, n)
		} else {
			roots = append(roots, n)
		}
	}

	out := make([]*mail.Message, 0, len(msgs))
	var walk func(n *threadNode, level int)
	walk = func(n *threadNode, level int) {
		n.msg.SetThreadLevel(level)
		out = append(out, n.msg)
		for _, c := range n.children {
			walk(c, level+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	return out
}

func resolveParent(m *mail.Message, byMessageID map[string]*threadNode) *threadNode {
	if p := byMessageID[firstHeader(m, "In-Reply-To")]; p != nil {
		return p
	}
	refs := strings.Fields(firstHeader(m, "References"))
	for i := len(refs) - 1; i >= 0; i-- {
		if p := byMessageID[refs[i]]; p != nil {
			return p
		}
	}
	return nil
}

func firstHeader(m *mail.Message, key string) string {
	for _, v := range m.Headers[key] {
		return strings.TrimSpace(v)
	}
	return ""
}
