// Package media keeps local copies of the images attached to messages.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chatclient/internal/models"
	"chatclient/internal/remote"
	"chatclient/internal/storage"

	"github.com/h2non/filetype"
)

const DefaultMaxSize = 10 << 20

var (
	ErrNotImage = errors.New("media is not an image")
	ErrTooLarge = errors.New("media exceeds size limit")
)

type Store interface {
	UpsertMediaMetadata(meta storage.MediaMetadata) error
	GetMediaMetadata(url string) (storage.MediaMetadata, error)
}

// Cache stores downloaded images on disk by content hash and records where
// each URL lives in the metadata store.
type Cache struct {
	root    string
	client  *http.Client
	store   Store
	maxSize int64
	now     func() time.Time
}

func NewCache(root string, client *http.Client, store Store) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{root: root, client: client, store: store, maxSize: DefaultMaxSize, now: time.Now}, nil
}

func (c *Cache) getPath(hash, ext string) string {
	name := hash
	if ext != "" {
		name += "." + ext
	}
	if len(hash) < 2 {
		return filepath.Join(c.root, name)
	}
	return filepath.Join(c.root, hash[:2], name)
}

// Fetch returns the cached copy of url, downloading it first when there is none.
func (c *Cache) Fetch(ctx context.Context, url, chatID, messageID string) (storage.MediaMetadata, error) {
	if meta, err := c.store.GetMediaMetadata(url); err == nil {
		if _, err := os.Stat(meta.Path); err == nil {
			return meta, nil
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return storage.MediaMetadata{}, err
	}

	data, err := c.download(ctx, url)
	if err != nil {
		return storage.MediaMetadata{}, err
	}

	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return storage.MediaMetadata{}, fmt.Errorf("%w: %s", ErrNotImage, url)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := c.getPath(hash, kind.Extension)
	if err := save(path, data); err != nil {
		return storage.MediaMetadata{}, err
	}

	meta := storage.MediaMetadata{
		URL:       url,
		Path:      path,
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(data)),
		CreatedAt: c.now().UnixNano(),
		MessageID: messageID,
		ChatID:    chatID,
	}
	if err := c.store.UpsertMediaMetadata(meta); err != nil {
		return storage.MediaMetadata{}, fmt.Errorf("failed to store media metadata: %w", err)
	}
	return meta, nil
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", models.ErrNoInternet, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to download %s: %w", url, remote.StatusError(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, url)
	}
	return data, nil
}

// save writes data to path through a temporary file. An existing file is left
// alone since paths are content addressed.
func save(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Open returns the cached file for url.
func (c *Cache) Open(url string) (io.ReadCloser, storage.MediaMetadata, error) {
	meta, err := c.store.GetMediaMetadata(url)
	if err != nil {
		return nil, meta, err
	}
	f, err := os.Open(meta.Path)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to open media %s: %w", meta.Hash, err)
	}
	return f, meta, nil
}

// Prefetch downloads every image of msg. It keeps going after a failed image
// and returns the joined errors.
func (c *Cache) Prefetch(ctx context.Context, msg models.ChatMessage) error {
	var errs []error
	for _, url := range msg.ImageURLs {
		if _, err := c.Fetch(ctx, url, msg.ChatID, msg.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
