package storage

import (
	"errors"
	"fmt"
	"sort"
	"syscall"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketChats            = []byte("chats")
	bucketParticipants     = []byte("participants")
	bucketChatParticipants = []byte("chat_participants")
	bucketMessages         = []byte("messages")
	bucketMessageIndex     = []byte("message_index")
	bucketSession          = []byte("session")
	bucketMedia            = []byte("media")
	bucketMediaByMessage   = []byte("media_by_message")

	keyCurrentSession = []byte("current")
)

type BboltStorage struct {
	db       *bbolt.DB
	watchers *watchers
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketChats,
			bucketParticipants,
			bucketChatParticipants,
			bucketMessages,
			bucketMessageIndex,
			bucketSession,
			bucketMedia,
			bucketMediaByMessage,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, watchers: newWatchers()}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// update runs fn in a write transaction and notifies watchers of the given
// tables once it has committed.
func (s *BboltStorage) update(fn func(tx *bbolt.Tx) error, tables ...Table) error {
	if err := s.db.Update(fn); err != nil {
		return classifyWriteErr(err)
	}
	s.watchers.notify(tables...)
	return nil
}

func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %w", models.ErrDiskFull, err)
	}
	return err
}

// MergeChats stores a chat list fetched from the server in one transaction.
// For every chat the participant links are replaced by the fetched set, except
// for the link of localUserID which is always kept.
func (s *BboltStorage) MergeChats(chats []models.Chat, localUserID string) error {
	return s.update(func(tx *bbolt.Tx) error {
		for _, chat := range chats {
			if err := putChat(tx, chat); err != nil {
				return err
			}

			participants := make([]models.ChatParticipant, 0, len(chat.Participants)+1)
			for _, p := range chat.Participants {
				if p != nil {
					participants = append(participants, *p)
				}
			}
			for _, p := range participants {
				if err := putParticipant(tx, p); err != nil {
					return err
				}
			}
			if chat.Creator != nil {
				if err := putParticipant(tx, *chat.Creator); err != nil {
					return err
				}
			}

			if err := replaceChatParticipants(tx, chat.ID, participants, localUserID); err != nil {
				return err
			}

			if chat.LastMessage != nil {
				if err := putMessage(tx, *chat.LastMessage); err != nil {
					return fmt.Errorf("failed to store last message of chat %s: %w", chat.ID, err)
				}
			}
		}
		return nil
	}, TableChats, TableParticipants, TableMessages)
}

func putChat(tx *bbolt.Tx, chat models.Chat) error {
	if chat.ID == "" {
		return errors.New("chat missing id")
	}
	b := tx.Bucket(bucketChats)

	dbChat := DBChat{
		ID:             chat.ID,
		Name:           chat.Name,
		IsGroupChat:    chat.IsGroupChat,
		LastActivityAt: toNanos(chat.LastActivityAt),
	}
	if chat.Creator != nil {
		dbChat.CreatorID = &chat.Creator.UserID
	}

	if data := b.Get(dbChat.Key()); data != nil {
		var existing DBChat
		if err := existing.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}
		if existing.LastActivityAt > dbChat.LastActivityAt {
			dbChat.LastActivityAt = existing.LastActivityAt
		}
	}

	data, err := dbChat.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	return b.Put(dbChat.Key(), data)
}

func putParticipant(tx *bbolt.Tx, p models.ChatParticipant) error {
	if p.UserID == "" {
		return errors.New("participant missing userID")
	}
	dbParticipant := toDBParticipant(p)
	data, err := dbParticipant.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	return tx.Bucket(bucketParticipants).Put(dbParticipant.Key(), data)
}

func replaceChatParticipants(tx *bbolt.Tx, chatID string, participants []models.ChatParticipant, localUserID string) error {
	links, err := tx.Bucket(bucketChatParticipants).CreateBucketIfNotExists([]byte(chatID))
	if err != nil {
		return fmt.Errorf("failed to create participant links bucket: %w", err)
	}

	var stale [][]byte
	if err := links.ForEach(func(k, _ []byte) error {
		if string(k) != localUserID {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		return err
	}
	for _, k := range stale {
		if err := links.Delete(k); err != nil {
			return err
		}
	}

	for _, p := range participants {
		if err := links.Put([]byte(p.UserID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// ListChats returns all chats joined with their participants and last message,
// most recently active first.
func (s *BboltStorage) ListChats() ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			chat, err := loadChat(tx, dbChat)
			if err != nil {
				return err
			}
			chats = append(chats, chat)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].LastActivityAt.Equal(chats[j].LastActivityAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].LastActivityAt.After(chats[j].LastActivityAt)
	})
	return chats, nil
}

func loadChat(tx *bbolt.Tx, dbChat DBChat) (models.Chat, error) {
	chat := models.Chat{
		ID:             dbChat.ID,
		Name:           dbChat.Name,
		IsGroupChat:    dbChat.IsGroupChat,
		LastActivityAt: fromNanos(dbChat.LastActivityAt),
		Participants:   []*models.ChatParticipant{},
	}

	if links := tx.Bucket(bucketChatParticipants).Bucket([]byte(dbChat.ID)); links != nil {
		err := links.ForEach(func(k, _ []byte) error {
			p, err := lookupParticipant(tx, string(k))
			if err != nil {
				return err
			}
			// Keep unresolved links as nil entries.
			chat.Participants = append(chat.Participants, p)
			return nil
		})
		if err != nil {
			return chat, err
		}
	}

	if dbChat.CreatorID != nil {
		creator, err := lookupParticipant(tx, *dbChat.CreatorID)
		if err != nil {
			return chat, err
		}
		chat.Creator = creator
	}

	if msgs := tx.Bucket(bucketMessages).Bucket([]byte(dbChat.ID)); msgs != nil {
		if _, v := msgs.Cursor().Last(); v != nil {
			msg, err := decodeMessage(tx, v)
			if err != nil {
				return chat, err
			}
			chat.LastMessage = &msg
		}
	}
	return chat, nil
}

func lookupParticipant(tx *bbolt.Tx, userID string) (*models.ChatParticipant, error) {
	data := tx.Bucket(bucketParticipants).Get([]byte(userID))
	if data == nil {
		return nil, nil
	}
	var dbParticipant DBParticipant
	if err := dbParticipant.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	return dbParticipant.toParticipant(), nil
}

func (s *BboltStorage) GetParticipant(userID string) (models.ChatParticipant, error) {
	var participant models.ChatParticipant
	err := s.db.View(func(tx *bbolt.Tx) error {
		p, err := lookupParticipant(tx, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return models.ErrNotFound
		}
		participant = *p
		return nil
	})
	return participant, err
}

// UpsertMessages saves messages by id and moves the owning chats' last
// activity forward.
func (s *BboltStorage) UpsertMessages(messages ...models.ChatMessage) error {
	return s.update(func(tx *bbolt.Tx) error {
		for _, msg := range messages {
			if err := putMessage(tx, msg); err != nil {
				return err
			}
		}
		return nil
	}, TableMessages, TableChats)
}

func putMessage(tx *bbolt.Tx, msg models.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	index := tx.Bucket(bucketMessageIndex)
	messages := tx.Bucket(bucketMessages)

	// The row key depends on createdAt, so a changed timestamp moves the row.
	if err := deleteIndexed(tx, msg.ID); err != nil {
		return err
	}

	chatBucket, err := messages.CreateBucketIfNotExists([]byte(msg.ChatID))
	if err != nil {
		return fmt.Errorf("failed to create chat bucket: %w", err)
	}

	dbMessage := toDBMessage(msg)
	data, err := dbMessage.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := dbMessage.Key()
	if err := chatBucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}

	ref := DBMessageRef{ChatID: msg.ChatID, Key: key}
	refData, err := ref.MarshalBinary()
	if err != nil {
		return err
	}
	if err := index.Put([]byte(msg.ID), refData); err != nil {
		return err
	}

	return bumpLastActivity(tx, msg.ChatID, dbMessage.CreatedAt)
}

func bumpLastActivity(tx *bbolt.Tx, chatID string, at int64) error {
	chats := tx.Bucket(bucketChats)
	data := chats.Get([]byte(chatID))
	if data == nil {
		// Messages may arrive before the chat list was fetched.
		return nil
	}

	var dbChat DBChat
	if err := dbChat.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("failed to unmarshal chat: %w", err)
	}
	if at <= dbChat.LastActivityAt {
		return nil
	}
	dbChat.LastActivityAt = at
	newData, err := dbChat.MarshalBinary()
	if err != nil {
		return err
	}
	return chats.Put(dbChat.Key(), newData)
}

func lookupRef(tx *bbolt.Tx, id string) (*DBMessageRef, error) {
	data := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message ref: %w", err)
	}
	return &ref, nil
}

func deleteIndexed(tx *bbolt.Tx, id string) error {
	ref, err := lookupRef(tx, id)
	if err != nil || ref == nil {
		return err
	}
	if chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID)); chatBucket != nil {
		if err := chatBucket.Delete(ref.Key); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketMessageIndex).Delete([]byte(id))
}

func decodeMessage(tx *bbolt.Tx, data []byte) (models.ChatMessage, error) {
	var dbMessage DBMessage
	if err := dbMessage.UnmarshalBinary(data); err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	msg := dbMessage.toMessage()
	if msg.Event != nil {
		msg.Event.AffectedUsernames = make([]string, len(msg.Event.AffectedUserIDs))
		for i, id := range msg.Event.AffectedUserIDs {
			p, err := lookupParticipant(tx, id)
			if err != nil {
				return msg, err
			}
			if p != nil {
				msg.Event.AffectedUsernames[i] = p.Username
			}
		}
	}
	return msg, nil
}

func (s *BboltStorage) GetMessage(id string) (models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		ref, err := lookupRef(tx, id)
		if err != nil {
			return err
		}
		if ref == nil {
			return models.ErrNotFound
		}
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID))
		if chatBucket == nil {
			return models.ErrNotFound
		}
		data := chatBucket.Get(ref.Key)
		if data == nil {
			return models.ErrNotFound
		}
		msg, err = decodeMessage(tx, data)
		return err
	})
	return msg, err
}

// ListMessages returns up to limit of the most recent messages of a chat in
// chronological order. A non-positive limit returns all of them.
func (s *BboltStorage) ListMessages(chatID string, limit int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil // No messages for this chat
		}

		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(messages) == limit {
				break
			}
			msg, err := decodeMessage(tx, v)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// OldestMessage returns the earliest stored message of a chat.
func (s *BboltStorage) OldestMessage(chatID string) (models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return models.ErrNotFound
		}
		_, v := chatBucket.Cursor().First()
		if v == nil {
			return models.ErrNotFound
		}
		var err error
		msg, err = decodeMessage(tx, v)
		return err
	})
	return msg, err
}

// UpdateDeliveryStatus sets the delivery status of a stored message. The
// delivery time is recorded when the status becomes SENT.
func (s *BboltStorage) UpdateDeliveryStatus(id string, status models.DeliveryStatus, at time.Time) error {
	return s.update(func(tx *bbolt.Tx) error {
		ref, err := lookupRef(tx, id)
		if err != nil {
			return err
		}
		if ref == nil {
			return models.ErrNotFound
		}
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID))
		if chatBucket == nil {
			return models.ErrNotFound
		}
		data := chatBucket.Get(ref.Key)
		if data == nil {
			return models.ErrNotFound
		}

		var dbMessage DBMessage
		if err := dbMessage.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		dbMessage.DeliveryStatus = string(status)
		if status == models.DeliverySent {
			deliveredAt := toNanos(at)
			dbMessage.DeliveredAt = &deliveredAt
		}

		newData, err := dbMessage.MarshalBinary()
		if err != nil {
			return err
		}
		return chatBucket.Put(ref.Key, newData)
	}, TableMessages)
}

func (s *BboltStorage) DeleteMessage(id string) error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := deleteIndexed(tx, id); err != nil {
			return err
		}
		return forgetMessageMedia(tx, id)
	}, TableMessages, TableChats, TableMedia)
}

func (s *BboltStorage) LoadSession() (auth.Session, error) {
	var session auth.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(keyCurrentSession)
		if data == nil {
			return models.ErrNotFound
		}
		var dbSession DBSession
		if err := dbSession.UnmarshalBinary(data); err != nil {
			return err
		}
		session = dbSession.toSession()
		return nil
	})
	return session, err
}

func (s *BboltStorage) SaveSession(session auth.Session) error {
	return s.update(func(tx *bbolt.Tx) error {
		dbSession := toDBSession(session)
		data, err := dbSession.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSession).Put(dbSession.Key(), data)
	}, TableSession)
}

func (s *BboltStorage) DeleteSession() error {
	return s.update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(keyCurrentSession)
	}, TableSession)
}
