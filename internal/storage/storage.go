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

// Package storage declares the capability interfaces the retrieval
// pipeline consumes. Implementations mediate an externally-defined remote
// mail protocol; the pipeline depends on these contracts only, never on
// backend internals. All errors crossing this boundary should be typed
// *mail.Error values so retry and fallback logic can classify them.
package storage

import (
	"context"

	"github.com/bcem/mailgate/internal/mail"
)

// MessageStorage is the message-level capability of one connected account
// session.
type MessageStorage interface {
	// Search runs a sorted, optionally filtered and paginated listing
	// and returns messages populated with the requested fields and
	// headers. Implementations must honor mail.FieldID/FieldFolderID
	// minimal fetches cheaply.
	Search(ctx context.Context, folder string, r *mail.IndexRange, sort mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error)

	// Fetch retrieves the given messages by ID with the requested
	// fields and headers. Result order matches the input ID order.
	// Unknown IDs yield a mail.KindNotFound error.
	Fetch(ctx context.Context, folder string, ids []string, fields mail.FieldSet, headers []string) ([]*mail.Message, error)

	// GetMessage retrieves a single full message. Fetching the body
	// marks the message seen on the backend; callers that need the
	// message to stay unseen must counteract with UpdateFlags.
	GetMessage(ctx context.Context, folder, id string) (*mail.Message, error)

	// FetchFull retrieves the given messages with every attribute plus
	// the raw RFC822 content, suitable for re-appending into another
	// account verbatim.
	FetchFull(ctx context.Context, folder string, ids []string) ([]*mail.Message, error)

	// ThreadedEnhanced and ThreadedBasic return a thread-structured
	// listing. Backends lacking a tier return mail.KindUnsupported.
	ThreadedEnhanced(ctx context.Context, folder string, r *mail.IndexRange, sort mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error)
	ThreadedBasic(ctx context.Context, folder string, r *mail.IndexRange, sort mail.SortField, order mail.Order, term *mail.SearchTerm, fields mail.FieldSet, headers []string) ([]*mail.Message, error)

	// Append stores raw messages into the folder and returns their
	// newly assigned IDs in input order.
	Append(ctx context.Context, folder string, msgs []*mail.Message) ([]string, error)

	// Copy and Move transfer messages within one account and return
	// the destination IDs in input order.
	Copy(ctx context.Context, sourceFolder, destFolder string, ids []string) ([]string, error)
	Move(ctx context.Context, sourceFolder, destFolder string, ids []string) ([]string, error)

	// Delete removes messages. hard bypasses the trash folder.
	Delete(ctx context.Context, folder string, ids []string, hard bool) error

	// UpdateFlags sets (value=true) or clears the given system flag
	// bits and user flags on the listed messages.
	UpdateFlags(ctx context.Context, folder string, ids []string, flags int32, userFlags []string, value bool) error

	// UpdateColorLabel assigns the colour label on the listed messages.
	UpdateColorLabel(ctx context.Context, folder string, ids []string, label int) error
}

// BatchFlagUpdater is the optional whole-folder flag capability. When
// present, "apply to all messages" flag updates take this path instead of
// enumerate-then-update.
type BatchFlagUpdater interface {
	UpdateAllFlags(ctx context.Context, folder string, flags int32, userFlags []string, value bool) error
}

// Folder describes one remote folder.
type Folder struct {
	Fullname     string
	Name         string
	MessageCount int
	UnreadCount  int
	HasSubfolder bool
}

// FolderStorage is the folder-level capability of one connected account
// session.
type FolderStorage interface {
	Exists(ctx context.Context, fullname string) (bool, error)
	Get(ctx context.Context, fullname string) (*Folder, error)
	Create(ctx context.Context, fullname string) error

	// Subfolders lists folders strictly below fullname; recursive
	// descends the whole subtree.
	Subfolders(ctx context.Context, fullname string, recursive bool) ([]Folder, error)

	// DeleteFolder removes a folder. The remote deletion may cascade
	// over subfolders, so callers capture the subtree first.
	DeleteFolder(ctx context.Context, fullname string) error

	// TrashFolder, SpamFolder and ArchiveFolder resolve the account's
	// default folders. An empty result means the role is unassigned.
	TrashFolder(ctx context.Context) (string, error)
	SpamFolder(ctx context.Context) (string, error)
	ArchiveFolder(ctx context.Context) (string, error)
}

// Capabilities carries the optional capabilities of one session, probed
// once at connection setup. Nil fields mean the backend lacks the
// capability.
type Capabilities struct {
	BatchFlags BatchFlagUpdater
}

// SpamHandler performs the spam/ham bookkeeping around a reclassifying
// move. Failures propagate: classification correctness is load-bearing.
type SpamHandler interface {
	HandleSpam(ctx context.Context, accountID int, folder string, ids []string) error
	HandleHam(ctx context.Context, accountID int, folder string, ids []string) error
}
