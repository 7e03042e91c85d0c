package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"chatclient/internal/models"

	"github.com/go-playground/validator/v10"
)

const defaultMessageLimit = 50

type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// MessageResponse carries the stored message even when sending it failed.
type MessageResponse struct {
	Message *models.ChatMessage `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type PushRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type HistoryResponse struct {
	Fetched int `json:"fetched"`
}

func isValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func (h *AdminHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.Chats()
	if err != nil {
		writeError(w, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *AdminHandler) RefreshChatsHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.FetchChats(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.ListChatsHandler(w, r)
}

func (h *AdminHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := h.messages.Messages(chatID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *AdminHandler) FetchHistoryHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.messages.FetchHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Fetched: n})
}

func (h *AdminHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.messages.SendMessage(r.Context(), req.ChatID, req.Content)
	writeMessage(w, msg, err)
}

func (h *AdminHandler) RetryMessageHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := h.messages.RetryMessage(r.Context(), r.PathValue("id"))
	writeMessage(w, msg, err)
}

func writeMessage(w http.ResponseWriter, msg models.ChatMessage, err error) {
	var resp MessageResponse
	if msg.ID != "" {
		resp.Message = &msg
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.messages.DeleteMessage(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Message " + id + " deleted"})
}

func (h *AdminHandler) PushHandler(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.MessageID == "" {
		http.Error(w, "chatId and messageId are required", http.StatusBadRequest)
		return
	}

	if err := h.push.HandleIncomingMessage(r.Context(), req.ChatID, req.MessageID, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
