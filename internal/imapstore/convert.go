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
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/bcem/mailgate/internal/mail"
)

// colorKeywordPrefix carries the colour label as an IMAP keyword, e.g.
// $cl_3 for label 3.
const colorKeywordPrefix = "$cl_"

// maxColorLabel bounds the label range used when clearing labels.
const maxColorLabel = 10

var systemFlags = []struct {
	bit  int32
	flag imap.Flag
}{
	{mail.FlagAnswered, imap.FlagAnswered},
	{mail.FlagDeleted, imap.FlagDeleted},
	{mail.FlagDraft, imap.FlagDraft},
	{mail.FlagFlagged, imap.FlagFlagged},
	{mail.FlagSeen, imap.FlagSeen},
	{mail.FlagSpam, imap.FlagJunk},
	{mail.FlagForwarded, imap.FlagForwarded},
	{mail.FlagReadAck, imap.FlagMDNSent},
}

// imapFlags renders a flag bitmask plus user flags into wire flags.
func imapFlags(bits int32, userFlags []string) []imap.Flag {
	var out []imap.Flag
	for _, sf := range systemFlags {
		if bits&sf.bit != 0 {
			out = append(out, sf.flag)
		}
	}
	for _, uf := range userFlags {
		out = append(out, imap.Flag(uf))
	}
	return out
}

// splitFlags decomposes wire flags into the system bitmask, the colour
// label and the remaining user flags.
func splitFlags(flags []imap.Flag) (bits int32, label int, user []string) {
	for _, f := range flags {
		matched := false
		for _, sf := range systemFlags {
			if f == sf.flag {
				bits |= sf.bit
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if n, ok := parseColorKeyword(f); ok {
			label = n
			continue
		}
		if !strings.HasPrefix(string(f), "\\") {
			user = append(user, string(f))
		}
	}
	return bits, label, user
}

func colorKeyword(label int) imap.Flag {
	return imap.Flag(colorKeywordPrefix + strconv.Itoa(label))
}

func parseColorKeyword(f imap.Flag) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToLower(string(f)), colorKeywordPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// allColorKeywords lists every label keyword, used to clear a label.
func allColorKeywords() []imap.Flag {
	out := make([]imap.Flag, 0, maxColorLabel)
	for n := 1; n <= maxColorLabel; n++ {
		out = append(out, colorKeyword(n))
	}
	return out
}

func parseUIDs(ids []string) (imap.UIDSet, error) {
	uids := make([]imap.UID, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, mail.NewError(mail.KindInvalidInput, "malformed message identifier %q", id)
		}
		uids = append(uids, imap.UID(n))
	}
	return imap.UIDSetNum(uids...), nil
}

func formatUID(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

// translateTerm renders a search tree into IMAP SEARCH criteria. Every
// member of the tree maps, so the server does the filtering.
func translateTerm(t *mail.SearchTerm) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if t == nil {
		return criteria
	}
	if !t.Since.IsZero() {
		criteria.Since = t.Since
	}
	if !t.Before.IsZero() {
		criteria.Before = t.Before
	}
	if t.FlagsSet != 0 {
		criteria.Flag = imapFlags(t.FlagsSet, nil)
	}
	if t.FlagsClear != 0 {
		criteria.NotFlag = imapFlags(t.FlagsClear, nil)
	}
	if t.Pattern != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   patternHeader(t),
			Value: t.Pattern,
		})
	}
	for _, sub := range t.And {
		criteria.And(translateTerm(sub))
	}
	if len(t.Or) == 1 {
		criteria.And(translateTerm(t.Or[0]))
	} else if len(t.Or) > 1 {
		// Fold the alternatives right to left into nested OR pairs.
		combined := *translateTerm(t.Or[len(t.Or)-1])
		for i := len(t.Or) - 2; i >= 0; i-- {
			pair := [2]imap.SearchCriteria{*translateTerm(t.Or[i]), combined}
			combined = imap.SearchCriteria{Or: [][2]imap.SearchCriteria{pair}}
		}
		criteria.And(&combined)
	}
	if t.Not != nil {
		criteria.Not = append(criteria.Not, *translateTerm(t.Not))
	}
	return criteria
}

func patternHeader(t *mail.SearchTerm) string {
	if t.Header != "" {
		return t.Header
	}
	switch t.Field {
	case mail.FieldFrom:
		return "From"
	case mail.FieldTo:
		return "To"
	case mail.FieldCc:
		return "Cc"
	case mail.FieldBcc:
		return "Bcc"
	default:
		return "Subject"
	}
}

func convertAddresses(addrs []imap.Address) []mail.Address {
	out := make([]mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, mail.Address{Address: a.Addr(), Name: a.Name})
	}
	return out
}

// populateMessage maps one fetch reply onto a message, marking only the
// attributes the requested field set named.
func populateMessage(buf *imapclient.FetchMessageBuffer, folder string, fields mail.FieldSet, headerSection *imap.FetchItemBodySection) *mail.Message {
	m := &mail.Message{}
	m.SetID(formatUID(buf.UID))
	m.SetFolder(folder)

	if fields.Has(mail.FieldFlags) || fields.Has(mail.FieldColorLabel) {
		bits, label, user := splitFlags(buf.Flags)
		if fields.Has(mail.FieldFlags) {
			m.SetFlags(bits)
			m.SetUserFlags(user)
		}
		if fields.Has(mail.FieldColorLabel) {
			m.SetColorLabel(label)
		}
	}
	if fields.Has(mail.FieldReceivedDate) {
		m.SetReceivedDate(buf.InternalDate)
	}
	if fields.Has(mail.FieldSize) {
		m.SetSize(buf.RFC822Size)
	}
	if env := buf.Envelope; env != nil {
		if fields.Has(mail.FieldSubject) {
			m.SetSubject(env.Subject)
		}
		if fields.Has(mail.FieldSentDate) {
			m.SetSentDate(env.Date)
		}
		if fields.Has(mail.FieldFrom) {
			m.SetFrom(convertAddresses(env.From))
		}
		if fields.Has(mail.FieldTo) {
			m.SetTo(convertAddresses(env.To))
		}
		if fields.Has(mail.FieldCc) {
			m.SetCc(convertAddresses(env.Cc))
		}
		if fields.Has(mail.FieldBcc) {
			m.SetBcc(convertAddresses(env.Bcc))
		}
	}
	if bs := buf.BodyStructure; bs != nil {
		if fields.Has(mail.FieldContentType) {
			m.SetContentType(bs.MediaType())
		}
		if fields.Has(mail.FieldAttachment) {
			m.SetHasAttachment(strings.EqualFold(bs.MediaType(), "multipart/mixed"))
		}
	}
	if headerSection != nil {
		raw := buf.FindBodySection(headerSection)
		headers := parseHeaders(raw)
		if fields.Has(mail.FieldHeaders) || len(headerSection.HeaderFields) > 0 {
			m.SetHeaders(headers)
		}
		if fields.Has(mail.FieldPriority) {
			m.SetPriority(parsePriority(headers))
		}
	}
	return m
}

// parseHeaders reads an RFC 5322 header block. A malformed block yields
// whatever parsed before the error.
func parseHeaders(raw []byte) map[string][]string {
	if len(raw) == 0 {
		return map[string][]string{}
	}
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	h, err := r.ReadMIMEHeader()
	if err != nil && len(h) == 0 {
		return map[string][]string{}
	}
	return map[string][]string(h)
}

// parsePriority reads X-Priority, defaulting to normal (3).
func parsePriority(headers map[string][]string) int {
	for _, v := range headers["X-Priority"] {
		s, _, _ := strings.Cut(strings.TrimSpace(v), " ")
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 3
}

// classify wraps a backend error into the pipeline's taxonomy. Transport
// failures become transient so the retry layer reconnects; protocol
// rejections map by response code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mail.Error
	if errors.As(err, &me) {
		return err
	}

	var ie *imap.Error
	if errors.As(err, &ie) {
		switch ie.Code {
		case imap.ResponseCodeNonExistent, imap.ResponseCodeTryCreate:
			return mail.WrapError(mail.KindNotFound, err, "mailbox or message does not exist")
		case imap.ResponseCodeAuthenticationFailed, imap.ResponseCodeAuthorizationFailed:
			return mail.WrapError(mail.KindAccessDenied, err, "backend rejected credentials")
		case imap.ResponseCodeOverQuota:
			return mail.WrapError(mail.KindQuotaExceeded, err, "mailbox quota exceeded")
		}
		return mail.WrapError(mail.KindUnexpected, err, "imap command rejected")
	}

	if isTransport(err) {
		return mail.WrapError(mail.KindConnectionTransient, err, "imap connection lost")
	}
	return mail.WrapError(mail.KindUnexpected, err, "imap operation failed")
}

func isTransport(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
