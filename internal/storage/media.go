package storage

import (
	"fmt"

	"chatclient/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// MediaMetadata points at the local copy of a remote image. Rows are keyed by
// URL and indexed by the message that referenced the image.
type MediaMetadata struct {
	URL       string `msgpack:"url"`
	Path      string `msgpack:"path"`
	Hash      string `msgpack:"hash"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	MessageID string `msgpack:"messageId"`
	ChatID    string `msgpack:"chatId"`
}

func (m *MediaMetadata) Key() []byte {
	return []byte(m.URL)
}

func (m *MediaMetadata) MarshalBinary() (data []byte, err error) {
	type alias MediaMetadata
	return msgpack.Marshal((*alias)(m))
}

func (m *MediaMetadata) UnmarshalBinary(data []byte) error {
	type alias MediaMetadata
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (s *BboltStorage) UpsertMediaMetadata(meta MediaMetadata) error {
	return s.update(func(tx *bbolt.Tx) error {
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal media metadata: %w", err)
		}
		if err := tx.Bucket(bucketMedia).Put(meta.Key(), data); err != nil {
			return err
		}
		if meta.MessageID == "" {
			return nil
		}
		byMessage, err := tx.Bucket(bucketMediaByMessage).CreateBucketIfNotExists([]byte(meta.MessageID))
		if err != nil {
			return err
		}
		return byMessage.Put(meta.Key(), []byte{})
	}, TableMedia)
}

func (s *BboltStorage) GetMediaMetadata(url string) (MediaMetadata, error) {
	var meta MediaMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMedia).Get([]byte(url))
		if data == nil {
			return fmt.Errorf("media metadata for %s: %w", url, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}

// forgetMessageMedia drops the media rows owned by a message. Rows that were
// re-fetched for another message since stay.
func forgetMessageMedia(tx *bbolt.Tx, messageID string) error {
	byMessage := tx.Bucket(bucketMediaByMessage).Bucket([]byte(messageID))
	if byMessage == nil {
		return nil
	}

	media := tx.Bucket(bucketMedia)
	var urls [][]byte
	if err := byMessage.ForEach(func(url, _ []byte) error {
		urls = append(urls, append([]byte(nil), url...))
		return nil
	}); err != nil {
		return err
	}
	for _, url := range urls {
		data := media.Get(url)
		if data == nil {
			continue
		}
		var meta MediaMetadata
		if err := meta.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal media metadata: %w", err)
		}
		if meta.MessageID != messageID {
			continue
		}
		if err := media.Delete(url); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketMediaByMessage).DeleteBucket([]byte(messageID))
}
