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

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/mail"
)

func countEvents(sink *events.Memory, kind events.Kind, folder string) int {
	n := 0
	for _, ev := range sink.Events() {
		if ev.Kind == kind && (folder == "" || ev.Folder == folder) {
			n++
		}
	}
	return n
}

func TestUpdateMessageFlags_WholeFolderBatch(t *testing.T) {
	env := newTestEnv(t)
	batch := env.dialer.enableBatch(0)
	env.seed("INBOX", 3, 0)

	err := env.svc.UpdateMessageFlags(context.Background(), "default0/INBOX", nil, mail.FlagSeen, nil, true)
	if err != nil {
		t.Fatalf("UpdateMessageFlags: %v", err)
	}
	if batch.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1", batch.batchCalls)
	}
	if env.backend.searches != 0 {
		t.Errorf("batch path must not enumerate: searches=%d", env.backend.searches)
	}
	for _, m := range env.backend.msgs["INBOX"] {
		if !m.Seen() {
			t.Errorf("message %s not flagged", m.ID)
		}
	}
	if n := countEvents(env.sink, events.KindFolderChanged, "INBOX"); n != 1 {
		t.Errorf("folder events = %d, want exactly 1", n)
	}
}

func TestUpdateMessageFlags_EnumerateFallback(t *testing.T) {
	env := newTestEnv(t)
	env.seed("INBOX", 3, 0)

	err := env.svc.UpdateMessageFlags(context.Background(), "default0/INBOX", nil, mail.FlagSeen, nil, true)
	if err != nil {
		t.Fatalf("UpdateMessageFlags: %v", err)
	}
	if env.backend.searches != 1 {
		t.Errorf("searches = %d, want 1 (ID enumeration)", env.backend.searches)
	}
	for _, m := range env.backend.msgs["INBOX"] {
		if !m.Seen() {
			t.Errorf("message %s not flagged", m.ID)
		}
	}
	if n := countEvents(env.sink, events.KindFolderChanged, "INBOX"); n != 1 {
		t.Errorf("folder events = %d, want exactly 1", n)
	}
}

func TestUpdateMessageFlags_PatchesCacheInPlace(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 2, 0)
	ctx := context.Background()
	fields := mail.NewFieldSet(mail.FieldID, mail.FieldFlags)

	if _, err := env.svc.GetMessages(ctx, "default0/INBOX", nil, mail.SortReceivedDate, mail.OrderAsc, nil, fields, nil); err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if err := env.svc.UpdateMessageFlags(ctx, "default0/INBOX", []string{seeded[0].ID}, mail.FlagSeen, nil, true); err != nil {
		t.Fatalf("UpdateMessageFlags: %v", err)
	}

	cached, ok := env.cache.Get(0, "INBOX", 7, 1)
	if !ok {
		t.Fatal("cache entry must survive a flag update")
	}
	for _, m := range cached {
		want := m.ID == seeded[0].ID
		if m.Seen() != want {
			t.Errorf("cached message %s seen=%v, want %v", m.ID, m.Seen(), want)
		}
	}
}

func TestUpdateMessageColorLabel(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 2, mail.FlagSeen)

	err := env.svc.UpdateMessageColorLabel(context.Background(), "default0/INBOX", []string{seeded[1].ID}, 4)
	if err != nil {
		t.Fatalf("UpdateMessageColorLabel: %v", err)
	}
	if got := env.backend.find("INBOX", seeded[1].ID).ColorLabel; got != 4 {
		t.Errorf("label = %d, want 4", got)
	}
	if got := env.backend.find("INBOX", seeded[0].ID).ColorLabel; got != 0 {
		t.Errorf("untargeted message label = %d, want 0", got)
	}
}

func TestMoveMessages_IntoSpamReportsSpam(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 2, mail.FlagSeen)

	_, err := env.svc.MoveMessages(context.Background(), "default0/INBOX", "default0/Spam",
		[]string{seeded[0].ID, seeded[1].ID})
	if err != nil {
		t.Fatalf("MoveMessages: %v", err)
	}
	if len(env.backend.spamCalls) != 1 {
		t.Errorf("spam reports = %v, want one", env.backend.spamCalls)
	}
	if len(env.backend.msgs["INBOX"]) != 0 || len(env.backend.msgs["Spam"]) != 2 {
		t.Errorf("messages not moved: inbox=%d spam=%d",
			len(env.backend.msgs["INBOX"]), len(env.backend.msgs["Spam"]))
	}
}

func TestMoveMessages_OutOfSpamReportsHam(t *testing.T) {
	env := newTestEnv(t)
	m := newMsg("Spam", time.Now(), mail.FlagSeen)
	env.backend.put(m)

	_, err := env.svc.MoveMessages(context.Background(), "default0/Spam", "default0/INBOX", []string{m.ID})
	if err != nil {
		t.Fatalf("MoveMessages: %v", err)
	}
	if len(env.backend.hamCalls) != 1 {
		t.Errorf("ham reports = %v, want one", env.backend.hamCalls)
	}
}

func TestMoveMessages_BookkeepingFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 1, mail.FlagSeen)
	env.backend.spamErr = errors.New("trainer unavailable")

	_, err := env.svc.MoveMessages(context.Background(), "default0/INBOX", "default0/Spam", []string{seeded[0].ID})
	if err == nil {
		t.Fatal("bookkeeping failure must abort the move")
	}
	if len(env.backend.msgs["INBOX"]) != 1 {
		t.Error("message must stay in place when classification fails")
	}
}

func TestMoveMessages_RestoresUnseen(t *testing.T) {
	env := newTestEnv(t)
	unseen := newMsg("INBOX", time.Now(), 0)
	seen := newMsg("INBOX", time.Now(), mail.FlagSeen)
	env.backend.put(unseen)
	env.backend.put(seen)

	destIDs, err := env.svc.MoveMessages(context.Background(), "default0/INBOX", "default0/Later",
		[]string{unseen.ID, seen.ID})
	if err != nil {
		t.Fatalf("MoveMessages: %v", err)
	}
	if env.backend.find("Later", destIDs[0]).Seen() {
		t.Error("unseen message must stay unseen after the move")
	}
	if !env.backend.find("Later", destIDs[1]).Seen() {
		t.Error("seen message must stay seen after the move")
	}
}

func TestMoveMessages_CrossAccountChunks(t *testing.T) {
	env := newTestEnv(t,
		account.Account{ID: 0, Name: "work"},
		account.Account{ID: 2, Name: "personal"},
	)
	env.cfg.MoveChunkSize = 1
	seeded := env.seed("INBOX", 3, 0)
	ids := messageIDs([]*mail.Message{seeded[0], seeded[1], seeded[2]})

	destIDs, err := env.svc.MoveMessages(context.Background(), "default0/INBOX", "default2/INBOX", ids)
	if err != nil {
		t.Fatalf("cross-account MoveMessages: %v", err)
	}
	if len(destIDs) != 3 {
		t.Fatalf("got %d destination IDs, want 3", len(destIDs))
	}
	other := env.dialer.backend(2)
	if len(other.msgs["INBOX"]) != 3 || len(env.backend.msgs["INBOX"]) != 0 {
		t.Errorf("messages not transferred: dest=%d source=%d",
			len(other.msgs["INBOX"]), len(env.backend.msgs["INBOX"]))
	}
	for _, id := range destIDs {
		if other.find("INBOX", id).Seen() {
			t.Errorf("unseen state lost on transferred message %s", id)
		}
	}
}

func TestCopyMessages_KeepsSource(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 1, mail.FlagSeen)

	destIDs, err := env.svc.CopyMessages(context.Background(), "default0/INBOX", "default0/Later", []string{seeded[0].ID})
	if err != nil {
		t.Fatalf("CopyMessages: %v", err)
	}
	if len(env.backend.msgs["INBOX"]) != 1 || len(env.backend.msgs["Later"]) != 1 {
		t.Error("copy must keep the source message")
	}
	if destIDs[0] == seeded[0].ID {
		t.Error("destination must get a fresh identifier")
	}
}

func TestTransfer_SameFolderRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.MoveMessages(context.Background(), "default0/INBOX", "default0/INBOX", []string{"1"})
	if !mail.IsKind(err, mail.KindInvalidInput) {
		t.Fatalf("kind = %v, want invalid_input", mail.KindOf(err))
	}
}

func TestDeleteMessages_RoutesThroughTrash(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 2, mail.FlagSeen)

	err := env.svc.DeleteMessages(context.Background(), "default0/INBOX", []string{seeded[0].ID}, false)
	if err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if len(env.backend.msgs["INBOX"]) != 1 || len(env.backend.msgs["Trash"]) != 1 {
		t.Errorf("soft delete must move to trash: inbox=%d trash=%d",
			len(env.backend.msgs["INBOX"]), len(env.backend.msgs["Trash"]))
	}
	if countEvents(env.sink, events.KindFolderChanged, "INBOX") != 1 ||
		countEvents(env.sink, events.KindFolderChanged, "Trash") != 1 {
		t.Errorf("events = %v", env.sink.Events())
	}
}

func TestDeleteMessages_HardExpunges(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 1, mail.FlagSeen)

	err := env.svc.DeleteMessages(context.Background(), "default0/INBOX", []string{seeded[0].ID}, true)
	if err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if len(env.backend.msgs["INBOX"]) != 0 {
		t.Error("hard delete must expunge")
	}
	if len(env.backend.msgs["Trash"]) != 0 {
		t.Error("hard delete must bypass trash")
	}
}

func TestDeleteFolder_EventPerAffectedFolder(t *testing.T) {
	env := newTestEnv(t)
	for _, folder := range []string{"Projects", "Projects/a", "Projects/a/deep", "Projects/b"} {
		env.backend.put(newMsg(folder, time.Now(), mail.FlagSeen))
	}

	if err := env.svc.DeleteFolder(context.Background(), "default0/Projects"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if got := countEvents(env.sink, events.KindFolderDeleted, ""); got != 4 {
		t.Errorf("deletion events = %d, want 4 (whole subtree)", got)
	}
	if _, ok := env.backend.msgs["Projects/a/deep"]; ok {
		t.Error("subtree not removed")
	}
}

func TestArchiveMailFolder_YearBuckets(t *testing.T) {
	env := newTestEnv(t)
	old2023 := newMsg("INBOX", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), mail.FlagSeen)
	old2024 := newMsg("INBOX", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), mail.FlagSeen)
	fresh := newMsg("INBOX", time.Now(), mail.FlagSeen)
	for _, m := range []*mail.Message{old2023, old2024, fresh} {
		env.backend.put(m)
	}

	moved, err := env.svc.ArchiveMailFolder(context.Background(), "default0/INBOX", 90)
	if err != nil {
		t.Fatalf("ArchiveMailFolder: %v", err)
	}
	if moved != 2 {
		t.Errorf("archived %d messages, want 2", moved)
	}
	if len(env.backend.msgs["Archive/2023"]) != 1 || len(env.backend.msgs["Archive/2024"]) != 1 {
		t.Errorf("year buckets wrong: 2023=%d 2024=%d",
			len(env.backend.msgs["Archive/2023"]), len(env.backend.msgs["Archive/2024"]))
	}
	if len(env.backend.msgs["INBOX"]) != 1 {
		t.Errorf("recent message must stay: inbox=%d", len(env.backend.msgs["INBOX"]))
	}
}

func TestArchiveMailFolder_RejectsArchiveItself(t *testing.T) {
	env := newTestEnv(t)
	env.backend.put(newMsg("Archive", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), mail.FlagSeen))

	_, err := env.svc.ArchiveMailFolder(context.Background(), "default0/Archive", 30)
	if !mail.IsKind(err, mail.KindInvalidInput) {
		t.Fatalf("kind = %v, want invalid_input", mail.KindOf(err))
	}
}

func TestEmitFolderEvent_PublishFailureIsWarning(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed("INBOX", 1, 0)
	env.svc.events = failingSink{}

	err := env.svc.UpdateMessageFlags(context.Background(), "default0/INBOX", []string{seeded[0].ID}, mail.FlagSeen, nil, true)
	if err != nil {
		t.Fatalf("flag update must succeed despite sink failure: %v", err)
	}
	if len(env.svc.Warnings()) == 0 {
		t.Error("publish failure must surface as a warning")
	}
}

type failingSink struct{}

func (failingSink) Publish(context.Context, events.Event) error {
	return errors.New("broker unreachable")
}
