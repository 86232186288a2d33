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

// Package mail defines the domain types shared across the retrieval
// pipeline: messages with presence-tracked attributes, field sets,
// composite folder identifiers, query arguments, and the error taxonomy.
package mail

import (
	"maps"
	"slices"
	"time"
)

// Message flag bits. These mirror the usual system flags of a remote
// mailbox plus a few virtual flags maintained by the pipeline itself.
const (
	FlagAnswered int32 = 1 << iota
	FlagDeleted
	FlagDraft
	FlagFlagged
	FlagRecent
	FlagSeen
	FlagUser
	FlagSpam
	FlagForwarded
	FlagReadAck
)

// Address is a sender or recipient with an address and optional display name.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Message represents one retrieved or composed mail message.
//
// Partial fetches are the norm, so every attribute carries an explicit
// presence bit distinct from being empty: use the Set* methods to populate
// attributes and Has to check population. Reading an attribute whose
// presence bit is unset yields the zero value.
type Message struct {
	ID     string
	Folder string

	ContentType   string
	From          []Address
	To            []Address
	Cc            []Address
	Bcc           []Address
	Subject       string
	Size          int64
	SentDate      time.Time
	ReceivedDate  time.Time
	Flags         int32
	UserFlags     []string
	ThreadLevel   int
	Priority      int
	ColorLabel    int
	Headers       map[string][]string
	HasAttachment bool
	TextPreview   string
	AccountName   string

	// Raw carries the full RFC822 bytes when a fetch requested them.
	// The pipeline treats the content as opaque (cross-account moves
	// append it verbatim); it is never parsed here.
	Raw []byte

	accountID    int
	hasAccountID bool
	present      FieldSet
}

// Has reports whether every given attribute has been populated.
func (m *Message) Has(fields ...Field) bool { return m.present.Has(fields...) }

// Present returns the set of populated attributes.
func (m *Message) Present() FieldSet { return m.present }

// AccountID returns the owning account, or -1 when not yet assigned.
func (m *Message) AccountID() int {
	if !m.hasAccountID {
		return -1
	}
	return m.accountID
}

// HasAccountID reports whether the owning account has been assigned.
func (m *Message) HasAccountID() bool { return m.hasAccountID }

// SetAccountID assigns the owning account. Every message must have this
// set before it leaves the pipeline boundary.
func (m *Message) SetAccountID(id int) {
	m.accountID = id
	m.hasAccountID = true
}

func (m *Message) SetID(id string) {
	m.ID = id
	m.present = m.present.With(FieldID)
}

func (m *Message) SetFolder(fullname string) {
	m.Folder = fullname
	m.present = m.present.With(FieldFolderID)
}

func (m *Message) SetContentType(ct string) {
	m.ContentType = ct
	m.present = m.present.With(FieldContentType)
}

func (m *Message) SetFrom(a []Address) {
	m.From = a
	m.present = m.present.With(FieldFrom)
}

func (m *Message) SetTo(a []Address) {
	m.To = a
	m.present = m.present.With(FieldTo)
}

func (m *Message) SetCc(a []Address) {
	m.Cc = a
	m.present = m.present.With(FieldCc)
}

func (m *Message) SetBcc(a []Address) {
	m.Bcc = a
	m.present = m.present.With(FieldBcc)
}

func (m *Message) SetSubject(s string) {
	m.Subject = s
	m.present = m.present.With(FieldSubject)
}

func (m *Message) SetSize(n int64) {
	m.Size = n
	m.present = m.present.With(FieldSize)
}

func (m *Message) SetSentDate(t time.Time) {
	m.SentDate = t
	m.present = m.present.With(FieldSentDate)
}

func (m *Message) SetReceivedDate(t time.Time) {
	m.ReceivedDate = t
	m.present = m.present.With(FieldReceivedDate)
}

func (m *Message) SetFlags(flags int32) {
	m.Flags = flags
	m.present = m.present.With(FieldFlags)
}

func (m *Message) SetUserFlags(flags []string) {
	m.UserFlags = flags
	m.present = m.present.With(FieldFlags)
}

func (m *Message) SetThreadLevel(level int) {
	m.ThreadLevel = level
	m.present = m.present.With(FieldThreadLevel)
}

func (m *Message) SetPriority(p int) {
	m.Priority = p
	m.present = m.present.With(FieldPriority)
}

func (m *Message) SetColorLabel(label int) {
	m.ColorLabel = label
	m.present = m.present.With(FieldColorLabel)
}

func (m *Message) SetHeaders(h map[string][]string) {
	m.Headers = h
	m.present = m.present.With(FieldHeaders)
}

func (m *Message) SetHasAttachment(v bool) {
	m.HasAttachment = v
	m.present = m.present.With(FieldAttachment)
}

func (m *Message) SetTextPreview(p string) {
	m.TextPreview = p
	m.present = m.present.With(FieldTextPreview)
}

func (m *Message) SetAccountName(name string) {
	m.AccountName = name
	m.present = m.present.With(FieldAccountName)
}

// Seen reports whether the \Seen flag is set.
func (m *Message) Seen() bool { return m.Flags&FlagSeen != 0 }

// Flagged reports whether the \Flagged flag is set.
func (m *Message) Flagged() bool { return m.Flags&FlagFlagged != 0 }

// Clone returns a deep copy. The cache stores and serves clones so that
// caller-side mutation never leaks into shared state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.From = slices.Clone(m.From)
	c.To = slices.Clone(m.To)
	c.Cc = slices.Clone(m.Cc)
	c.Bcc = slices.Clone(m.Bcc)
	c.UserFlags = slices.Clone(m.UserFlags)
	c.Raw = slices.Clone(m.Raw)
	if m.Headers != nil {
		c.Headers = make(map[string][]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = slices.Clone(v)
		}
	}
	return &c
}

// MergeFrom copies all populated attributes of o into m. Used to merge a
// lighter follow-up fetch (headers, text preview) into cached messages
// without a full re-fetch.
func (m *Message) MergeFrom(o *Message) {
	if o == nil {
		return
	}
	if o.Has(FieldID) {
		m.SetID(o.ID)
	}
	if o.Has(FieldFolderID) {
		m.SetFolder(o.Folder)
	}
	if o.Has(FieldContentType) {
		m.SetContentType(o.ContentType)
	}
	if o.Has(FieldFrom) {
		m.SetFrom(slices.Clone(o.From))
	}
	if o.Has(FieldTo) {
		m.SetTo(slices.Clone(o.To))
	}
	if o.Has(FieldCc) {
		m.SetCc(slices.Clone(o.Cc))
	}
	if o.Has(FieldBcc) {
		m.SetBcc(slices.Clone(o.Bcc))
	}
	if o.Has(FieldSubject) {
		m.SetSubject(o.Subject)
	}
	if o.Has(FieldSize) {
		m.SetSize(o.Size)
	}
	if o.Has(FieldSentDate) {
		m.SetSentDate(o.SentDate)
	}
	if o.Has(FieldReceivedDate) {
		m.SetReceivedDate(o.ReceivedDate)
	}
	if o.Has(FieldFlags) {
		m.SetFlags(o.Flags)
		m.SetUserFlags(slices.Clone(o.UserFlags))
	}
	if o.Has(FieldThreadLevel) {
		m.SetThreadLevel(o.ThreadLevel)
	}
	if o.Has(FieldPriority) {
		m.SetPriority(o.Priority)
	}
	if o.Has(FieldColorLabel) {
		m.SetColorLabel(o.ColorLabel)
	}
	if o.Has(FieldHeaders) {
		m.SetHeaders(maps.Clone(o.Headers))
	}
	if o.Has(FieldAttachment) {
		m.SetHasAttachment(o.HasAttachment)
	}
	if o.Has(FieldTextPreview) {
		m.SetTextPreview(o.TextPreview)
	}
	if o.Has(FieldAccountName) {
		m.SetAccountName(o.AccountName)
	}
	if o.HasAccountID() {
		m.SetAccountID(o.AccountID())
	}
}
