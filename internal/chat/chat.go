// Package chat keeps the local chat list in sync with the server.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/content"
	"chatclient/internal/models"
	"chatclient/internal/observability"
	"chatclient/internal/remote"
	"chatclient/internal/storage"

	"github.com/c-pro/geche"
)

type Remote interface {
	FetchChats(ctx context.Context) ([]remote.ChatDTO, error)
}

type Store interface {
	MergeChats(chats []models.Chat, localUserID string) error
	ListChats() ([]models.Chat, error)
	GetParticipant(userID string) (models.ChatParticipant, error)
	Watch(ctx context.Context, tables ...storage.Table) <-chan struct{}
}

type Sessions interface {
	Current() *auth.Session
}

type Config struct {
	Remote      Remote
	Store       Store
	Sessions    Sessions
	UsernameTTL time.Duration
}

// Repository serves chats from the local store and refreshes them from the
// server on request.
type Repository struct {
	remote    Remote
	store     Store
	sessions  Sessions
	usernames geche.Geche[string, string]
	now       func() time.Time
}

func NewRepository(ctx context.Context, config Config) *Repository {
	ttl := config.UsernameTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Repository{
		remote:    config.Remote,
		store:     config.Store,
		sessions:  config.Sessions,
		usernames: geche.NewMapTTLCache[string, string](ctx, ttl, time.Minute),
		now:       time.Now,
	}
}

// FetchChats downloads the chat list and merges it into the local store in one
// transaction. Nothing is written when the download fails.
func (r *Repository) FetchChats(ctx context.Context) error {
	session := r.sessions.Current()
	if session == nil {
		return auth.ErrNoSession
	}

	dtos, err := r.remote.FetchChats(ctx)
	if err != nil {
		observability.IncSync("chats", "error")
		return fmt.Errorf("failed to fetch chats: %w", err)
	}

	now := r.now()
	chats := make([]models.Chat, 0, len(dtos))
	for _, dto := range dtos {
		chat := dto.ToChat(now)
		sanitize(&chat)
		chats = append(chats, chat)
	}

	if err := r.store.MergeChats(chats, session.UserID); err != nil {
		observability.IncSync("chats", "error")
		return fmt.Errorf("failed to store chats: %w", err)
	}
	observability.IncSync("chats", "ok")

	for _, chat := range chats {
		for _, p := range chat.Participants {
			_ = r.usernames.Del(p.UserID)
		}
		if chat.Creator != nil {
			_ = r.usernames.Del(chat.Creator.UserID)
		}
	}
	slog.Debug("chats synchronized", "count", len(chats))
	return nil
}

func sanitize(chat *models.Chat) {
	if chat.Name != nil {
		name := content.PlainText(*chat.Name)
		chat.Name = &name
	}
	for _, p := range chat.Participants {
		p.Username = content.PlainText(p.Username)
	}
	if chat.Creator != nil {
		chat.Creator.Username = content.PlainText(chat.Creator.Username)
	}
}

// Chats returns the current local chat list.
func (r *Repository) Chats() ([]models.Chat, error) {
	return r.store.ListChats()
}

// ObserveChats emits the local chat list now and after every change to it,
// most recently active first. It never calls the server. The channel is closed
// once ctx is done.
func (r *Repository) ObserveChats(ctx context.Context) <-chan []models.Chat {
	out := make(chan []models.Chat)
	changes := r.store.Watch(ctx, storage.TableChats, storage.TableParticipants, storage.TableMessages)

	go func() {
		defer close(out)
		for range changes {
			chats, err := r.store.ListChats()
			if err != nil {
				slog.Error("failed to list chats", "error", err)
				continue
			}
			select {
			case out <- chats:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// GetUsernameByID looks a username up in the local participant cache.
func (r *Repository) GetUsernameByID(userID string) (string, bool) {
	if name, err := r.usernames.Get(userID); err == nil {
		return name, true
	}
	p, err := r.store.GetParticipant(userID)
	if err != nil {
		return "", false
	}
	r.usernames.Set(userID, p.Username)
	return p.Username, true
}
