package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatclient/internal/models"
	"chatclient/internal/observable"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSession = errors.New("no authenticated user")
)

// Session is the signed-in user's credentials for the chat backend.
type Session struct {
	UserID       string `json:"userId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Expired reports whether the access token carries an expiry that lies before now.
// Tokens without a readable expiry never expire locally.
func (s Session) Expired(now time.Time) bool {
	claims, err := ParseClaims(s.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}

// Claims are the access token claims the client cares about. The backend
// puts the user id either into "sub" or into a custom "user_id" claim.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) EffectiveUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// ParseClaims reads the claims of an access token without verifying its
// signature. The client holds no verification key.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

type Store interface {
	LoadSession() (Session, error)
	SaveSession(Session) error
	DeleteSession() error
}

// Provider owns the current session. It persists every change and publishes it
// to watchers; a nil session means signed out.
type Provider struct {
	mu      sync.Mutex
	store   Store
	current *observable.Value[*Session]
}

func NewProvider(store Store) (*Provider, error) {
	p := &Provider{
		store:   store,
		current: observable.NewValue[*Session](nil),
	}

	s, err := store.LoadSession()
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	default:
		p.current.Set(&s)
	}
	return p, nil
}

// Current returns a copy of the current session or nil.
func (p *Provider) Current() *Session {
	s := p.current.Get()
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func (p *Provider) Watch(ctx context.Context) <-chan *Session {
	return p.current.Watch(ctx)
}

// Update stores a new or refreshed session. A missing user id is taken from the
// access token claims.
func (p *Provider) Update(s Session) error {
	if s.AccessToken == "" {
		return errors.New("session has no access token")
	}
	if s.UserID == "" {
		claims, err := ParseClaims(s.AccessToken)
		if err != nil {
			return err
		}
		s.UserID = claims.EffectiveUserID()
		if s.UserID == "" {
			return errors.New("access token has no subject")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.SaveSession(s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	p.current.Set(&s)
	return nil
}

// Invalidate signs the user out.
func (p *Provider) Invalidate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current.Get() == nil {
		return nil
	}
	if err := p.store.DeleteSession(); err != nil {
		slog.Error("failed to delete session", "error", err)
	}
	p.current.Set(nil)
	return nil
}
