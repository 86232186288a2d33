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

import "testing"

func TestParseFolderID(t *testing.T) {
	tests := []struct {
		in      string
		want    FolderID
		wantErr bool
	}{
		{in: "default0/INBOX", want: FolderID{AccountID: 0, Fullname: "INBOX"}},
		{in: "default3/INBOX/Sub", want: FolderID{AccountID: 3, Fullname: "INBOX/Sub"}},
		{in: "INBOX/Sub", want: FolderID{AccountID: 0, Fullname: "INBOX/Sub"}},
		{in: "Trash", want: FolderID{AccountID: 0, Fullname: "Trash"}},
		{in: "", wantErr: true},
		{in: "default3", wantErr: true},
		{in: "default3/", wantErr: true},
		{in: "defaultx/INBOX", wantErr: true},
		{in: "default-1/INBOX", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseFolderID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFolderID(%q): expected error", tc.in)
			} else if !IsKind(err, KindInvalidInput) {
				t.Errorf("ParseFolderID(%q): kind = %v, want invalid_input", tc.in, KindOf(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFolderID(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFolderID(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestFolderID_RoundTrip(t *testing.T) {
	f := FolderID{AccountID: 2, Fullname: "INBOX/Archive/2025"}
	got, err := ParseFolderID(f.String())
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if got != f {
		t.Fatalf("round trip = %+v, want %+v", got, f)
	}
}

func TestFolderID_IsSubfolderOf(t *testing.T) {
	f := FolderID{AccountID: 0, Fullname: "INBOX/Sub/Deep"}
	if !f.IsSubfolderOf("INBOX") || !f.IsSubfolderOf("INBOX/Sub") {
		t.Error("expected subfolder relation")
	}
	if f.IsSubfolderOf("INBOX/Sub/Deep") {
		t.Error("folder is not a subfolder of itself")
	}
	if f.IsSubfolderOf("INB") {
		t.Error("prefix of a path segment is not a parent")
	}
}

func TestErrorKinds(t *testing.T) {
	base := NewError(KindQuotaExceeded, "over quota on %s", "INBOX")
	wrapped := WrapError(KindUnexpected, base, "append failed")

	if !IsKind(wrapped, KindUnexpected) {
		t.Error("outermost kind must win")
	}
	if KindOf(nil) != KindUnexpected {
		t.Error("nil error defaults to unexpected")
	}
	if !IsTransient(NewError(KindConnectionTransient, "gone")) {
		t.Error("IsTransient")
	}
	if IsTransient(base) {
		t.Error("quota error reported transient")
	}
}

func TestSearchTerm_ShortestPattern(t *testing.T) {
	if got := (*SearchTerm)(nil).ShortestPattern(); got != -1 {
		t.Errorf("nil term = %d, want -1", got)
	}
	term := &SearchTerm{
		And: []*SearchTerm{
			{Field: FieldSubject, Pattern: "abcdef"},
			{Or: []*SearchTerm{{Field: FieldFrom, Pattern: "ab"}}},
		},
	}
	if got := term.ShortestPattern(); got != 2 {
		t.Errorf("ShortestPattern = %d, want 2", got)
	}
}

func TestSearchTerm_Matches(t *testing.T) {
	m := &Message{}
	m.SetSubject("Quarterly Report")
	m.SetFrom([]Address{{Address: "alice@example.com", Name: "Alice"}})
	m.SetFlags(FlagSeen)

	if !(&SearchTerm{Field: FieldSubject, Pattern: "report"}).Matches(m) {
		t.Error("case-insensitive subject match failed")
	}
	if !(&SearchTerm{Field: FieldFrom, Pattern: "alice"}).Matches(m) {
		t.Error("from match failed")
	}
	if (&SearchTerm{FlagsClear: FlagSeen}).Matches(m) {
		t.Error("FlagsClear must reject seen message")
	}
	if !(&SearchTerm{Not: &SearchTerm{Field: FieldSubject, Pattern: "invoice"}}).Matches(m) {
		t.Error("negation failed")
	}
}
