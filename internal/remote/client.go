// Package remote is the REST client of the chat backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/models"
	"chatclient/internal/wire"

	"golang.org/x/sync/singleflight"
)

type Sessions interface {
	Current() *auth.Session
	Update(auth.Session) error
	Invalidate() error
}

type ParticipantDTO struct {
	UserID            string  `json:"userId"`
	Username          string  `json:"username"`
	Email             string  `json:"email"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
}

func (p ParticipantDTO) ToParticipant() *models.ChatParticipant {
	return &models.ChatParticipant{
		UserID:            p.UserID,
		Username:          p.Username,
		Email:             p.Email,
		ProfilePictureURL: p.ProfilePictureURL,
	}
}

type ChatDTO struct {
	ID             string               `json:"id"`
	Participants   []ParticipantDTO     `json:"participants"`
	LastMessage    *wire.MessagePayload `json:"lastMessage"`
	IsGroupChat    bool                 `json:"isGroupChat"`
	Name           *string              `json:"name"`
	Creator        *ParticipantDTO      `json:"creator"`
	LastActivityAt time.Time            `json:"lastActivityAt"`
}

// ToChat converts the server representation. Last activity falls back to the
// last message time when the server does not send one.
func (c ChatDTO) ToChat(now time.Time) models.Chat {
	chat := models.Chat{
		ID:             c.ID,
		IsGroupChat:    c.IsGroupChat,
		Name:           c.Name,
		LastActivityAt: c.LastActivityAt,
		Participants:   make([]*models.ChatParticipant, 0, len(c.Participants)),
	}
	for _, p := range c.Participants {
		chat.Participants = append(chat.Participants, p.ToParticipant())
	}
	if c.Creator != nil {
		chat.Creator = c.Creator.ToParticipant()
	}
	if c.LastMessage != nil {
		msg := c.LastMessage.ToChatMessage(now)
		chat.LastMessage = &msg
		if msg.CreatedAt.After(chat.LastActivityAt) {
			chat.LastActivityAt = msg.CreatedAt
		}
	}
	return chat
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

type Client struct {
	baseURL  string
	locale   string
	pageSize int
	http     *http.Client
	sessions Sessions
	refresh  singleflight.Group
	now      func() time.Time
}

func New(baseURL, locale string, timeout time.Duration, pageSize int, sessions Sessions) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		locale:   locale,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
		sessions: sessions,
		now:      time.Now,
	}
}

// StatusError maps an HTTP status to a typed remote error.
func StatusError(status int) error {
	switch status {
	case http.StatusBadRequest:
		return models.ErrBadRequest
	case http.StatusUnauthorized:
		return models.ErrUnauthorized
	case http.StatusForbidden:
		return models.ErrForbidden
	case http.StatusNotFound:
		return models.ErrRemoteNotFound
	case http.StatusRequestTimeout:
		return models.ErrRequestTimeout
	case http.StatusConflict:
		return models.ErrConflict
	case http.StatusRequestEntityTooLarge:
		return models.ErrPayloadTooLarge
	case http.StatusTooManyRequests:
		return models.ErrTooManyRequests
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return models.ErrServerError
	}
	return models.ErrRemoteUnknown
}

func (c *Client) FetchChats(ctx context.Context) ([]ChatDTO, error) {
	var chats []ChatDTO
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// FetchMessages returns one page of a chat's history older than before. A zero
// before returns the latest page.
func (c *Client) FetchMessages(ctx context.Context, chatID string, before time.Time) ([]wire.MessagePayload, error) {
	query := url.Values{}
	if !before.IsZero() {
		query.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if c.pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(c.pageSize))
	}

	var messages []wire.MessagePayload
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) FetchMessage(ctx context.Context, chatID, messageID string) (wire.MessagePayload, error) {
	var msg wire.MessagePayload
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID)
	err := c.do(ctx, http.MethodGet, path, nil, &msg)
	return msg, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// do performs an authenticated call. An expired or rejected access token is
// refreshed once and the call repeated with the new one.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	session := c.sessions.Current()
	if session == nil {
		return auth.ErrNoSession
	}

	var err error
	if session.Expired(c.now()) {
		if session, err = c.refreshSession(ctx, session); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, query, session.AccessToken)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		if session, err = c.refreshSession(ctx, session); err != nil {
			return err
		}
		if resp, err = c.send(ctx, method, path, query, session.AccessToken); err != nil {
			return err
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", StatusError(resp.StatusCode), method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", models.ErrSerialization, method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, token string) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return resp, nil
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrRequestTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrNoInternet, err)
}

// refreshSession trades the refresh token for a new access token. Concurrent
// callers share one refresh. A rejected refresh token signs the user out.
func (c *Client) refreshSession(ctx context.Context, stale *auth.Session) (*auth.Session, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		if cur := c.sessions.Current(); cur != nil && cur.AccessToken != stale.AccessToken {
			return cur, nil
		}
		if stale.RefreshToken == "" {
			_ = c.sessions.Invalidate()
			return nil, models.ErrUnauthorized
		}

		body, err := json.Marshal(refreshRequest{RefreshToken: stale.RefreshToken})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, transportError(ctx, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			_ = c.sessions.Invalidate()
			return nil, models.ErrUnauthorized
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("%w: token refresh returned %d", StatusError(resp.StatusCode), resp.StatusCode)
		}

		var result refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("%w: token refresh: %v", models.ErrSerialization, err)
		}
		session := auth.Session{
			UserID:       result.UserID,
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
		}
		if session.UserID == "" {
			session.UserID = stale.UserID
		}
		if session.RefreshToken == "" {
			session.RefreshToken = stale.RefreshToken
		}
		if err := c.sessions.Update(session); err != nil {
			return nil, err
		}
		return &session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.Session), nil
}
