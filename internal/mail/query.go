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

import (
	"strings"
	"time"
)

// IndexRange is a half-open [Start, End) pagination window over a sorted
// result. A nil *IndexRange means "no pagination".
type IndexRange struct {
	Start int
	End   int
}

// Empty reports whether the range selects nothing. Start >= End must
// short-circuit to an empty result without any remote call.
func (r *IndexRange) Empty() bool {
	return r != nil && r.Start >= r.End
}

// Validate rejects negative bounds.
func (r *IndexRange) Validate() error {
	if r == nil {
		return nil
	}
	if r.Start < 0 || r.End < 0 {
		return NewError(KindInvalidInput, "index range [%d, %d) has negative bound", r.Start, r.End)
	}
	return nil
}

// Order is a sort direction.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// SortField selects the attribute a listing is ordered by.
type SortField int

const (
	SortReceivedDate SortField = iota
	SortSentDate
	SortSubject
	SortFrom
	SortTo
	SortSize
	SortColorLabel
)

// Less compares two messages under the sort field. Messages lacking the
// attribute sort first.
func (s SortField) Less(a, b *Message) bool {
	switch s {
	case SortSentDate:
		return a.SentDate.Before(b.SentDate)
	case SortSubject:
		return a.Subject < b.Subject
	case SortFrom:
		return firstAddress(a.From) < firstAddress(b.From)
	case SortTo:
		return firstAddress(a.To) < firstAddress(b.To)
	case SortSize:
		return a.Size < b.Size
	case SortColorLabel:
		return a.ColorLabel < b.ColorLabel
	default:
		return a.ReceivedDate.Before(b.ReceivedDate)
	}
}

func firstAddress(a []Address) string {
	if len(a) == 0 {
		return ""
	}
	return a[0].Address
}

// SearchTerm is a small composable search tree translated by the storage
// backend into its native query form. Zero-valued members are ignored.
type SearchTerm struct {
	And []*SearchTerm
	Or  []*SearchTerm
	Not *SearchTerm

	// Field + Pattern matches a substring in an addressable attribute
	// (Subject, From, To, Cc, Bcc).
	Field   Field
	Pattern string

	// Header + Pattern matches a named header.
	Header string

	Since  time.Time
	Before time.Time

	// FlagsSet / FlagsClear constrain system flags.
	FlagsSet   int32
	FlagsClear int32
}

// ShortestPattern returns the length of the shortest non-empty pattern in
// the tree, or -1 when the tree carries no pattern at all. Used to enforce
// the configured minimum search pattern length.
func (t *SearchTerm) ShortestPattern() int {
	if t == nil {
		return -1
	}
	shortest := -1
	consider := func(n int) {
		if n >= 0 && (shortest < 0 || n < shortest) {
			shortest = n
		}
	}
	if t.Pattern != "" {
		consider(len(t.Pattern))
	}
	for _, sub := range t.And {
		consider(sub.ShortestPattern())
	}
	for _, sub := range t.Or {
		consider(sub.ShortestPattern())
	}
	if t.Not != nil {
		consider(t.Not.ShortestPattern())
	}
	return shortest
}

// Fields returns the attribute set Matches consults anywhere in the
// tree. A message must carry these before the term can be evaluated
// against it in memory.
func (t *SearchTerm) Fields() FieldSet {
	if t == nil {
		return 0
	}
	var fs FieldSet
	if t.Pattern != "" {
		if t.Header != "" {
			fs = fs.With(FieldHeaders)
		} else {
			switch t.Field {
			case FieldFrom, FieldTo, FieldCc, FieldBcc:
				fs = fs.With(t.Field)
			default:
				fs = fs.With(FieldSubject)
			}
		}
	}
	if !t.Since.IsZero() || !t.Before.IsZero() {
		fs = fs.With(FieldReceivedDate)
	}
	if t.FlagsSet != 0 || t.FlagsClear != 0 {
		fs = fs.With(FieldFlags)
	}
	for _, sub := range t.And {
		fs = fs.Union(sub.Fields())
	}
	for _, sub := range t.Or {
		fs = fs.Union(sub.Fields())
	}
	if t.Not != nil {
		fs = fs.Union(t.Not.Fields())
	}
	return fs
}

// Matches evaluates the term against an in-memory message. Backends with
// server-side search never call this; it backs the unified-inbox fan-out
// and tests.
func (t *SearchTerm) Matches(m *Message) bool {
	if t == nil {
		return true
	}
	for _, sub := range t.And {
		if !sub.Matches(m) {
			return false
		}
	}
	if len(t.Or) > 0 {
		any := false
		for _, sub := range t.Or {
			if sub.Matches(m) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if t.Not != nil && t.Not.Matches(m) {
		return false
	}
	if t.Pattern != "" && !t.matchesPattern(m) {
		return false
	}
	if !t.Since.IsZero() && m.ReceivedDate.Before(t.Since) {
		return false
	}
	if !t.Before.IsZero() && !m.ReceivedDate.Before(t.Before) {
		return false
	}
	if t.FlagsSet != 0 && m.Flags&t.FlagsSet != t.FlagsSet {
		return false
	}
	if t.FlagsClear != 0 && m.Flags&t.FlagsClear != 0 {
		return false
	}
	return true
}

func (t *SearchTerm) matchesPattern(m *Message) bool {
	if t.Header != "" {
		for _, v := range m.Headers[t.Header] {
			if containsFold(v, t.Pattern) {
				return true
			}
		}
		return false
	}
	switch t.Field {
	case FieldFrom:
		return addressesMatch(m.From, t.Pattern)
	case FieldTo:
		return addressesMatch(m.To, t.Pattern)
	case FieldCc:
		return addressesMatch(m.Cc, t.Pattern)
	case FieldBcc:
		return addressesMatch(m.Bcc, t.Pattern)
	default:
		return containsFold(m.Subject, t.Pattern)
	}
}

func addressesMatch(addrs []Address, pattern string) bool {
	for _, a := range addrs {
		if containsFold(a.Address, pattern) || containsFold(a.Name, pattern) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// FetchArguments describes one fetch for listener applicability checks.
// Immutable by convention; never mutated after construction.
type FetchArguments struct {
	Folder  FolderID
	Fields  FieldSet
	Headers []string
	Term    *SearchTerm
	Sort    SortField
	Order   Order
}
