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
	"fmt"
	"strconv"
	"strings"
)

// folderPrefix introduces the account part of a composite folder
// identifier: "default<account>/<fullname>".
const folderPrefix = "default"

// FolderID is the parsed (account, fullname) pair behind a composite
// folder identifier. Immutable after parsing; every folder-addressed
// operation parses through this to know which account to connect to.
type FolderID struct {
	AccountID int
	Fullname  string
}

// ParseFolderID parses a caller-supplied composite folder identifier.
// Accepted forms:
//
//	"default3/INBOX/Sub"  → account 3, fullname "INBOX/Sub"
//	"INBOX/Sub"           → account 0 (primary), fullname "INBOX/Sub"
func ParseFolderID(s string) (FolderID, error) {
	if s == "" {
		return FolderID{}, NewError(KindInvalidInput, "empty folder identifier")
	}
	if !strings.HasPrefix(s, folderPrefix) {
		return FolderID{Fullname: s}, nil
	}
	rest := s[len(folderPrefix):]
	sep := strings.IndexByte(rest, '/')
	if sep < 0 {
		// "default3" alone addresses the account root, which is not
		// a message folder.
		return FolderID{}, NewError(KindInvalidInput, "folder identifier %q has no fullname part", s)
	}
	id, err := strconv.Atoi(rest[:sep])
	if err != nil || id < 0 {
		return FolderID{}, NewError(KindInvalidInput, "folder identifier %q has malformed account part", s)
	}
	fullname := rest[sep+1:]
	if fullname == "" {
		return FolderID{}, NewError(KindInvalidInput, "folder identifier %q has empty fullname", s)
	}
	return FolderID{AccountID: id, Fullname: fullname}, nil
}

// String renders the composite identifier form.
func (f FolderID) String() string {
	return fmt.Sprintf("%s%d/%s", folderPrefix, f.AccountID, f.Fullname)
}

// IsSubfolderOf reports whether f lies strictly below the given fullname
// within the same account.
func (f FolderID) IsSubfolderOf(fullname string) bool {
	return strings.HasPrefix(f.Fullname, fullname+"/")
}
