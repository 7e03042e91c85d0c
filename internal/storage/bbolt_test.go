package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func textMessage(id, chatID string, at time.Time) models.ChatMessage {
	return models.ChatMessage{
		ID:             id,
		ChatID:         chatID,
		SenderID:       ptr("bob"),
		Content:        "hello " + id,
		MessageType:    models.MessageTypeText,
		CreatedAt:      at,
		DeliveryStatus: models.DeliverySent,
	}
}

func TestStorage_Chats(t *testing.T) {
	store := newTestStorage(t)

	alice := &models.ChatParticipant{UserID: "alice", Username: "Alice", Email: "a@x"}
	bob := &models.ChatParticipant{UserID: "bob", Username: "Bob", Email: "b@x"}
	carol := &models.ChatParticipant{UserID: "carol", Username: "Carol", Email: "c@x"}

	last := textMessage("m1", "c1", t0.Add(time.Minute))
	chats := []models.Chat{
		{
			ID:             "c1",
			Participants:   []*models.ChatParticipant{alice, bob},
			LastMessage:    &last,
			LastActivityAt: t0,
		},
		{
			ID:             "c2",
			Name:           ptr("Team"),
			IsGroupChat:    true,
			Participants:   []*models.ChatParticipant{alice, bob, carol},
			Creator:        carol,
			LastActivityAt: t0.Add(30 * time.Second),
		},
	}

	if err := store.MergeChats(chats, "alice"); err != nil {
		t.Fatalf("MergeChats failed: %v", err)
	}

	t.Run("ListChats", func(t *testing.T) {
		got, err := store.ListChats()
		if err != nil {
			t.Fatalf("ListChats failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 chats, got %d", len(got))
		}
		// c1's last message is newer than c2's activity.
		if got[0].ID != "c1" || got[1].ID != "c2" {
			t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
		}
		if !got[0].LastActivityAt.Equal(last.CreatedAt) {
			t.Errorf("expected last activity %v, got %v", last.CreatedAt, got[0].LastActivityAt)
		}
		if got[0].LastMessage == nil || got[0].LastMessage.ID != "m1" {
			t.Errorf("expected last message m1, got %+v", got[0].LastMessage)
		}
		if len(got[1].Participants) != 3 {
			t.Errorf("expected 3 participants, got %d", len(got[1].Participants))
		}
		if got[1].Creator == nil || got[1].Creator.UserID != "carol" {
			t.Errorf("expected creator carol, got %+v", got[1].Creator)
		}
		if got[1].DisplayName("alice") != "Team" {
			t.Errorf("unexpected display name %q", got[1].DisplayName("alice"))
		}
	})

	t.Run("ReplaceLinksKeepsLocalUser", func(t *testing.T) {
		// The server now reports only carol for c2; alice's own link survives.
		update := []models.Chat{{
			ID:             "c2",
			Name:           ptr("Team"),
			IsGroupChat:    true,
			Participants:   []*models.ChatParticipant{carol},
			LastActivityAt: t0,
		}}
		if err := store.MergeChats(update, "alice"); err != nil {
			t.Fatalf("MergeChats failed: %v", err)
		}

		got, err := store.ListChats()
		if err != nil {
			t.Fatalf("ListChats failed: %v", err)
		}
		var c2 models.Chat
		for _, c := range got {
			if c.ID == "c2" {
				c2 = c
			}
		}
		ids := map[string]bool{}
		for _, p := range c2.Participants {
			if p != nil {
				ids[p.UserID] = true
			}
		}
		if len(ids) != 2 || !ids["alice"] || !ids["carol"] {
			t.Errorf("expected alice and carol, got %v", ids)
		}
		// An older server timestamp never moves activity backwards.
		if !c2.LastActivityAt.Equal(t0.Add(30 * time.Second)) {
			t.Errorf("last activity moved backwards: %v", c2.LastActivityAt)
		}
	})

	t.Run("GetParticipant", func(t *testing.T) {
		p, err := store.GetParticipant("bob")
		if err != nil {
			t.Fatalf("GetParticipant failed: %v", err)
		}
		if p.Username != "Bob" {
			t.Errorf("expected Bob, got %s", p.Username)
		}
		if _, err := store.GetParticipant("nobody"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidLastMessageAbortsMerge", func(t *testing.T) {
		bad := models.ChatMessage{ID: "e1", ChatID: "c3", MessageType: models.MessageTypeEvent, DeliveryStatus: models.DeliverySent}
		err := store.MergeChats([]models.Chat{{ID: "c3", LastMessage: &bad}}, "alice")
		if err == nil {
			t.Fatal("expected error for event message without event")
		}
		got, _ := store.ListChats()
		for _, c := range got {
			if c.ID == "c3" {
				t.Fatal("chat c3 must not be stored after a failed merge")
			}
		}
	})
}

func TestStorage_Messages(t *testing.T) {
	store := newTestStorage(t)
	if err := store.MergeChats([]models.Chat{{ID: "c1", LastActivityAt: t0}}, "alice"); err != nil {
		t.Fatalf("MergeChats failed: %v", err)
	}

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		msg := textMessage("m1", "c1", t0.Add(time.Second))
		for range 2 {
			if err := store.UpsertMessages(msg); err != nil {
				t.Fatalf("UpsertMessages failed: %v", err)
			}
		}
		list, err := store.ListMessages("c1", 0)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 message, got %d", len(list))
		}
	})

	t.Run("ChangedTimestampMovesRow", func(t *testing.T) {
		msg := textMessage("m1", "c1", t0.Add(2*time.Second))
		if err := store.UpsertMessages(msg); err != nil {
			t.Fatalf("UpsertMessages failed: %v", err)
		}
		list, _ := store.ListMessages("c1", 0)
		if len(list) != 1 || !list[0].CreatedAt.Equal(msg.CreatedAt) {
			t.Fatalf("expected one row at the new timestamp, got %+v", list)
		}
	})

	t.Run("ListMessagesLimit", func(t *testing.T) {
		for i := range 5 {
			msg := textMessage(fmt.Sprintf("n%d", i), "c1", t0.Add(time.Duration(10+i)*time.Second))
			if err := store.UpsertMessages(msg); err != nil {
				t.Fatalf("UpsertMessages failed: %v", err)
			}
		}
		list, err := store.ListMessages("c1", 3)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(list))
		}
		if list[0].ID != "n2" || list[2].ID != "n4" {
			t.Errorf("expected n2..n4 in order, got %s..%s", list[0].ID, list[2].ID)
		}

		oldest, err := store.OldestMessage("c1")
		if err != nil {
			t.Fatalf("OldestMessage failed: %v", err)
		}
		if oldest.ID != "m1" {
			t.Errorf("expected oldest m1, got %s", oldest.ID)
		}

		chats, _ := store.ListChats()
		if !chats[0].LastActivityAt.Equal(t0.Add(14 * time.Second)) {
			t.Errorf("expected last activity bumped to newest message, got %v", chats[0].LastActivityAt)
		}
	})

	t.Run("UpdateDeliveryStatus", func(t *testing.T) {
		msg := textMessage("s1", "c1", t0.Add(time.Minute))
		msg.DeliveryStatus = models.DeliverySending
		if err := store.UpsertMessages(msg); err != nil {
			t.Fatalf("UpsertMessages failed: %v", err)
		}

		if err := store.UpdateDeliveryStatus("s1", models.DeliveryFailed, t0); err != nil {
			t.Fatalf("UpdateDeliveryStatus failed: %v", err)
		}
		got, err := store.GetMessage("s1")
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if got.DeliveryStatus != models.DeliveryFailed {
			t.Errorf("expected FAILED, got %s", got.DeliveryStatus)
		}
		if got.DeliveredAt != nil {
			t.Errorf("failed message must not have a delivery time")
		}

		if err := store.UpdateDeliveryStatus("s1", models.DeliverySent, t0.Add(time.Hour)); err != nil {
			t.Fatalf("UpdateDeliveryStatus failed: %v", err)
		}
		got, _ = store.GetMessage("s1")
		if got.DeliveredAt == nil || !got.DeliveredAt.Equal(t0.Add(time.Hour)) {
			t.Errorf("expected delivery time to be set, got %v", got.DeliveredAt)
		}

		if err := store.UpdateDeliveryStatus("missing", models.DeliverySent, t0); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteMessage", func(t *testing.T) {
		if err := store.DeleteMessage("s1"); err != nil {
			t.Fatalf("DeleteMessage failed: %v", err)
		}
		if _, err := store.GetMessage("s1"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RejectsInvalidRows", func(t *testing.T) {
		msg := textMessage("x1", "c1", t0)
		msg.DeliveryStatus = ""
		if err := store.UpsertMessages(msg); err == nil {
			t.Error("expected error for message without delivery status")
		}
	})
}

func TestStorage_EventUsernames(t *testing.T) {
	store := newTestStorage(t)
	dave := &models.ChatParticipant{UserID: "dave", Username: "Dave"}
	if err := store.MergeChats([]models.Chat{{ID: "c1", Participants: []*models.ChatParticipant{dave}}}, "alice"); err != nil {
		t.Fatalf("MergeChats failed: %v", err)
	}

	event := models.ChatMessage{
		ID:             "e1",
		ChatID:         "c1",
		MessageType:    models.MessageTypeEvent,
		Event:          &models.MessageEvent{Type: models.EventParticipantsAdded, AffectedUserIDs: []string{"dave", "ghost"}},
		CreatedAt:      t0,
		DeliveryStatus: models.DeliverySent,
	}
	if err := store.UpsertMessages(event); err != nil {
		t.Fatalf("UpsertMessages failed: %v", err)
	}

	got, err := store.GetMessage("e1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Event == nil || len(got.Event.AffectedUsernames) != 2 {
		t.Fatalf("expected resolved usernames, got %+v", got.Event)
	}
	if got.Event.AffectedUsernames[0] != "Dave" || got.Event.AffectedUsernames[1] != "" {
		t.Errorf("unexpected usernames %v", got.Event.AffectedUsernames)
	}
}

func TestStorage_Session(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.LoadSession(); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	session := auth.Session{UserID: "u1", AccessToken: "a", RefreshToken: "r"}
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := store.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if got != session {
		t.Errorf("expected %+v, got %+v", session, got)
	}

	if err := store.DeleteSession(); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.LoadSession(); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStorage_MediaMetadata(t *testing.T) {
	store := newTestStorage(t)

	meta := MediaMetadata{URL: "https://x/1.png", Path: "media/ab", Hash: "ab", MimeType: "image/png", Size: 10, MessageID: "m1", ChatID: "c1"}
	if err := store.UpsertMediaMetadata(meta); err != nil {
		t.Fatalf("UpsertMediaMetadata failed: %v", err)
	}
	got, err := store.GetMediaMetadata(meta.URL)
	if err != nil {
		t.Fatalf("GetMediaMetadata failed: %v", err)
	}
	if got != meta {
		t.Errorf("expected %+v, got %+v", meta, got)
	}
	if _, err := store.GetMediaMetadata("https://x/none.png"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	t.Run("DeletedWithMessage", func(t *testing.T) {
		if err := store.UpsertMessages(textMessage("m1", "c1", t0), textMessage("m2", "c1", t0.Add(time.Minute))); err != nil {
			t.Fatalf("UpsertMessages failed: %v", err)
		}
		// The same image fetched again for m2 now belongs to m2.
		shared := MediaMetadata{URL: "https://x/2.png", Path: "media/cd", Hash: "cd", MessageID: "m1", ChatID: "c1"}
		if err := store.UpsertMediaMetadata(shared); err != nil {
			t.Fatalf("UpsertMediaMetadata failed: %v", err)
		}
		shared.MessageID = "m2"
		if err := store.UpsertMediaMetadata(shared); err != nil {
			t.Fatalf("UpsertMediaMetadata failed: %v", err)
		}

		if err := store.DeleteMessage("m1"); err != nil {
			t.Fatalf("DeleteMessage failed: %v", err)
		}
		if _, err := store.GetMediaMetadata(meta.URL); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected media of deleted message to be gone, got %v", err)
		}
		if _, err := store.GetMediaMetadata(shared.URL); err != nil {
			t.Errorf("media owned by another message must stay: %v", err)
		}
	})
}

func TestStorage_Watch(t *testing.T) {
	store := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := store.Watch(ctx, TableMessages)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected initial notification")
	}

	if err := store.SaveSession(auth.Session{UserID: "u1", AccessToken: "a"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
		t.Fatal("unexpected notification for an unwatched table")
	case <-time.After(50 * time.Millisecond):
	}

	if err := store.UpsertMessages(textMessage("m1", "c1", t0)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification after message write")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after cancel")
		}
	}
}

func TestClassifyWriteErr(t *testing.T) {
	err := classifyWriteErr(fmt.Errorf("write: %w", syscall.ENOSPC))
	if !errors.Is(err, models.ErrDiskFull) {
		t.Errorf("expected ErrDiskFull, got %v", err)
	}
	if !errors.Is(err, syscall.ENOSPC) {
		t.Errorf("expected original cause to be kept, got %v", err)
	}

	other := errors.New("boom")
	if classifyWriteErr(other) != other {
		t.Error("unrelated errors must pass through")
	}
}
