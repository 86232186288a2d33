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

package mail

import "strings"

// Field identifies one semantic message attribute that can be requested
// from a storage backend. Fields are bit values so a FieldSet is a plain
// bitmask union.
type Field uint32

const (
	FieldID Field = 1 << iota
	FieldFolderID
	FieldContentType
	FieldFrom
	FieldTo
	FieldCc
	FieldBcc
	FieldSubject
	FieldSize
	FieldSentDate
	FieldReceivedDate
	FieldFlags
	FieldThreadLevel
	FieldPriority
	FieldColorLabel
	FieldHeaders
	FieldAttachment
	FieldTextPreview
	FieldAccountName
)

// AllFields lists every defined field. Presence checks and the resolver
// iterate this list; keep it in sync with the constants above.
var AllFields = []Field{
	FieldID,
	FieldFolderID,
	FieldContentType,
	FieldFrom,
	FieldTo,
	FieldCc,
	FieldBcc,
	FieldSubject,
	FieldSize,
	FieldSentDate,
	FieldReceivedDate,
	FieldFlags,
	FieldThreadLevel,
	FieldPriority,
	FieldColorLabel,
	FieldHeaders,
	FieldAttachment,
	FieldTextPreview,
	FieldAccountName,
}

var fieldNames = map[Field]string{
	FieldID:           "id",
	FieldFolderID:     "folder_id",
	FieldContentType:  "content_type",
	FieldFrom:         "from",
	FieldTo:           "to",
	FieldCc:           "cc",
	FieldBcc:          "bcc",
	FieldSubject:      "subject",
	FieldSize:         "size",
	FieldSentDate:     "sent_date",
	FieldReceivedDate: "received_date",
	FieldFlags:        "flags",
	FieldThreadLevel:  "thread_level",
	FieldPriority:     "priority",
	FieldColorLabel:   "color_label",
	FieldHeaders:      "headers",
	FieldAttachment:   "attachment",
	FieldTextPreview:  "text_preview",
	FieldAccountName:  "account_name",
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "unknown"
}

// FieldSet is an unordered set of fields.
type FieldSet uint32

// NewFieldSet builds a set from the given fields.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s |= FieldSet(f)
	}
	return s
}

// Has reports whether every given field is in the set.
func (s FieldSet) Has(fields ...Field) bool {
	for _, f := range fields {
		if s&FieldSet(f) == 0 {
			return false
		}
	}
	return true
}

// With returns a copy of the set with the given fields added.
func (s FieldSet) With(fields ...Field) FieldSet {
	for _, f := range fields {
		s |= FieldSet(f)
	}
	return s
}

// Without returns a copy of the set with the given fields removed.
func (s FieldSet) Without(fields ...Field) FieldSet {
	for _, f := range fields {
		s &^= FieldSet(f)
	}
	return s
}

// Union returns the union of both sets.
func (s FieldSet) Union(o FieldSet) FieldSet { return s | o }

// Contains reports whether every field of o is in s.
func (s FieldSet) Contains(o FieldSet) bool { return s&o == o }

// Fields returns the members of the set in enumeration order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for _, f := range AllFields {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	var parts []string
	for _, f := range s.Fields() {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, ",")
}
