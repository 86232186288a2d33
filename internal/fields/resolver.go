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

// Package fields sizes a fetch: given the requested field set and the
// candidate result size it decides the minimal-yet-sufficient attribute
// set and whether the result is cache-eligible. This avoids both
// under-fetching (N+1 round trips) and over-fetching (wasted bandwidth).
package fields

import (
	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/mail"
)

// CacheRequired is the fixed field set the cache needs to serve
// subsequent partial reads.
var CacheRequired = mail.NewFieldSet(
	mail.FieldID,
	mail.FieldFolderID,
	mail.FieldFlags,
	mail.FieldReceivedDate,
	mail.FieldSize,
)

var idAndFolder = mail.NewFieldSet(mail.FieldID, mail.FieldFolderID)

// Resolved is the outcome of a resolution.
type Resolved struct {
	Fields    mail.FieldSet
	Headers   []string
	Cacheable bool

	// OnlyIDAndFolder marks the fast path: the caller wants nothing
	// beyond what the cheap first-phase listing already returns, so no
	// second round-trip is issued.
	OnlyIDAndFolder bool
}

// Resolve normalizes a requested field set for one fetch.
//
// Results smaller than the fetch limit are cacheable and get the cache's
// required fields added. Larger results are never cached; if the request
// is exactly {ID, FOLDER_ID} with no headers the fast-path flag is set.
//
// When the account's flagging mode derives colour from flags (or
// suppresses it), COLOR_LABEL and FLAGS must travel together: requesting
// one silently adds the other.
func Resolve(requested mail.FieldSet, headers []string, candidateSize, fetchLimit int, mode account.FlaggingMode) Resolved {
	r := Resolved{Fields: requested, Headers: headers}

	if candidateSize < fetchLimit {
		r.Cacheable = true
		r.Fields = r.Fields.Union(CacheRequired)
	} else if requested == idAndFolder && len(headers) == 0 {
		r.OnlyIDAndFolder = true
	}

	if mode != account.ModeDefault {
		if r.Fields.Has(mail.FieldColorLabel) && !r.Fields.Has(mail.FieldFlags) {
			r.Fields = r.Fields.With(mail.FieldFlags)
		} else if r.Fields.Has(mail.FieldFlags) && !r.Fields.Has(mail.FieldColorLabel) {
			r.Fields = r.Fields.With(mail.FieldColorLabel)
		}
	}

	return r
}
