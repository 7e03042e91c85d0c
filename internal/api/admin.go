package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"chatclient/internal/auth"
	"chatclient/internal/message"
	"chatclient/internal/models"
	"chatclient/internal/observable"
)

type Connection interface {
	State() models.ConnectionState
	Active() bool
	SetActive(active bool)
}

type Chats interface {
	Chats() ([]models.Chat, error)
	FetchChats(ctx context.Context) error
}

type Messages interface {
	Messages(chatID string, limit int) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, chatID, text string) (models.ChatMessage, error)
	RetryMessage(ctx context.Context, messageID string) (models.ChatMessage, error)
	FetchHistory(ctx context.Context, chatID string) (int, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

type Push interface {
	HandleIncomingMessage(ctx context.Context, chatID, messageID string, done func()) error
}

// Connectivity is the online signal with a manual override.
type Connectivity interface {
	Online() bool
	Override(online *bool)
}

type Sessions interface {
	Current() *auth.Session
	Update(s auth.Session) error
	Invalidate() error
}

type Config struct {
	Connection   Connection
	Chats        Chats
	Messages     Messages
	Push         Push
	Connectivity Connectivity
	Foreground   *observable.Value[bool]
	Sessions     Sessions
}

// AdminHandler serves the loopback admin API.
type AdminHandler struct {
	conn       Connection
	chats      Chats
	messages   Messages
	push       Push
	online     Connectivity
	foreground *observable.Value[bool]
	sessions   Sessions
}

func NewAdminHandler(cfg Config) *AdminHandler {
	return &AdminHandler{
		conn:       cfg.Connection,
		chats:      cfg.Chats,
		messages:   cfg.Messages,
		push:       cfg.Push,
		online:     cfg.Connectivity,
		foreground: cfg.Foreground,
		sessions:   cfg.Sessions,
	}
}

type StateResponse struct {
	State      models.ConnectionState `json:"state"`
	Online     bool                   `json:"online"`
	Foreground bool                   `json:"foreground"`
	Active     bool                   `json:"active"`
	UserID     string                 `json:"userId,omitempty"`
}

type SignalsRequest struct {
	Online     *bool `json:"online,omitempty"`
	Foreground *bool `json:"foreground,omitempty"`
	Active     *bool `json:"active,omitempty"`
	// ResetOnline hands the online signal back to the connectivity probe.
	ResetOnline bool `json:"resetOnline,omitempty"`
}

type SessionRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *AdminHandler) state() StateResponse {
	resp := StateResponse{
		State:      h.conn.State(),
		Online:     h.online.Online(),
		Foreground: h.foreground.Get(),
		Active:     h.conn.Active(),
	}
	if s := h.sessions.Current(); s != nil {
		resp.UserID = s.UserID
	}
	return resp
}

func (h *AdminHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

func (h *AdminHandler) SignalsHandler(w http.ResponseWriter, r *http.Request) {
	var req SignalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch {
	case req.ResetOnline:
		h.online.Override(nil)
	case req.Online != nil:
		h.online.Override(req.Online)
	}
	if req.Foreground != nil {
		h.foreground.Set(*req.Foreground)
	}
	if req.Active != nil {
		h.conn.SetActive(*req.Active)
	}

	writeJSON(w, http.StatusOK, h.state())
}

func (h *AdminHandler) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccessToken == "" {
		http.Error(w, "Access token is required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.Update(auth.Session{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}); err != nil {
		writeError(w, fmt.Errorf("failed to sign in: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

func (h *AdminHandler) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Invalidate(); err != nil {
		writeError(w, fmt.Errorf("failed to sign out: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Signed out"})
}

// statusFor maps domain errors onto admin API statuses.
func statusFor(err error) int {
	var remoteErr models.RemoteError
	var connErr models.ConnectionError
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrRemoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, message.ErrNotRetriable):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrDiskFull):
		return http.StatusInsufficientStorage
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	case isValidation(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), models.APIResponse{Success: false, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode admin response: %v", err)
	}
}
