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

package fields

import (
	"testing"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/mail"
)

func TestResolve_SmallResultIsCacheable(t *testing.T) {
	requested := mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldSubject)
	r := Resolve(requested, nil, 50, 100, account.ModeDefault)

	if !r.Cacheable {
		t.Fatal("result below fetch limit must be cacheable")
	}
	if !r.Fields.Contains(CacheRequired) {
		t.Errorf("cache-required fields missing: got %v", r.Fields)
	}
	if !r.Fields.Contains(requested) {
		t.Errorf("requested fields dropped: got %v", r.Fields)
	}
	if r.OnlyIDAndFolder {
		t.Error("fast path must not trigger on cacheable result")
	}
}

func TestResolve_LargeResultNotCacheable(t *testing.T) {
	requested := mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldSubject)
	r := Resolve(requested, nil, 100, 100, account.ModeDefault)

	if r.Cacheable {
		t.Fatal("result at fetch limit must not be cacheable")
	}
	if r.Fields != requested {
		t.Errorf("fields changed without cause: got %v, want %v", r.Fields, requested)
	}
}

func TestResolve_FastPathOnlyIDAndFolder(t *testing.T) {
	requested := mail.NewFieldSet(mail.FieldID, mail.FieldFolderID)

	r := Resolve(requested, nil, 5000, 100, account.ModeDefault)
	if !r.OnlyIDAndFolder {
		t.Error("exact {ID, FOLDER_ID} above limit must take the fast path")
	}

	// Requested headers disable the fast path.
	r = Resolve(requested, []string{"X-Priority"}, 5000, 100, account.ModeDefault)
	if r.OnlyIDAndFolder {
		t.Error("fast path must not trigger when headers are requested")
	}

	// Below the limit the cache fields win over the fast path.
	r = Resolve(requested, nil, 5, 100, account.ModeDefault)
	if r.OnlyIDAndFolder {
		t.Error("fast path must not trigger on cacheable result")
	}
}

func TestResolve_ColorFlagsTravelTogether(t *testing.T) {
	for _, mode := range []account.FlaggingMode{account.ModeFlaggedOnly, account.ModeFlaggedImplicit} {
		r := Resolve(mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldColorLabel), nil, 5000, 100, mode)
		if !r.Fields.Has(mail.FieldFlags) {
			t.Errorf("mode %v: COLOR_LABEL without FLAGS", mode)
		}

		r = Resolve(mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldFlags), nil, 5000, 100, mode)
		if !r.Fields.Has(mail.FieldColorLabel) {
			t.Errorf("mode %v: FLAGS without COLOR_LABEL", mode)
		}
	}

	// Default mode leaves the set alone.
	requested := mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldColorLabel)
	r := Resolve(requested, nil, 5000, 100, account.ModeDefault)
	if r.Fields.Has(mail.FieldFlags) {
		t.Error("default mode must not add FLAGS")
	}
}
