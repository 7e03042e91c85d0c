// Package commands implements the CLI subcommands that talk to a running
// daemon through its admin API.
package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatclient/internal/api"
	"chatclient/internal/config"
	"chatclient/internal/models"
)

func ListChats(w io.Writer, cfg *config.Config) error {
	var chats []models.Chat
	if err := call(cfg, http.MethodGet, "/admin/chats", nil, &chats); err != nil {
		return err
	}

	if len(chats) == 0 {
		_, _ = fmt.Fprintln(w, "No chats.")
		return nil
	}
	for _, chat := range chats {
		last := "-"
		if chat.LastMessage != nil {
			last = preview(*chat.LastMessage)
		}
		_, _ = fmt.Fprintf(w, "%-36s  %-24s  %s\n", chat.ID, chat.DisplayName(""), last)
	}
	return nil
}

func SendMessage(w io.Writer, cfg *config.Config, chatID, content string) error {
	var resp api.MessageResponse
	err := call(cfg, http.MethodPost, "/admin/messages", api.SendMessageRequest{ChatID: chatID, Content: content}, &resp)
	printMessage(w, resp)
	return err
}

func RetryMessage(w io.Writer, cfg *config.Config, messageID string) error {
	var resp api.MessageResponse
	err := call(cfg, http.MethodPost, "/admin/messages/"+messageID+"/retry", nil, &resp)
	printMessage(w, resp)
	return err
}

func printMessage(w io.Writer, resp api.MessageResponse) {
	if resp.Message == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "Message:  %s\n", resp.Message.ID)
	_, _ = fmt.Fprintf(w, "Status:   %s\n", resp.Message.DeliveryStatus)
	if resp.Message.DeliveryStatus == models.DeliveryFailed {
		_, _ = fmt.Fprintf(w, "Run with -retry %s to send it again.\n", resp.Message.ID)
	}
}

func preview(msg models.ChatMessage) string {
	text := msg.Content
	if msg.MessageType == models.MessageTypeEvent && msg.Event != nil {
		text = "[" + string(msg.Event.Type) + "]"
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if r := []rune(text); len(r) > 40 {
		text = string(r[:40]) + "…"
	}
	return text
}

// call sends a JSON request to the admin API and decodes the reply into out.
// out is decoded even for error statuses when the body is JSON.
func call(cfg *config.Config, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := fmt.Sprintf("http://%s%s", cfg.AdminAddr, path)
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the daemon running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	decodeErr := json.Unmarshal(data, out)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var apiResp struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &apiResp) == nil {
			if apiResp.Error != "" {
				msg = apiResp.Error
			} else if apiResp.Message != "" {
				msg = apiResp.Message
			}
		}
		return fmt.Errorf("admin API error (Status: %d): %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	return nil
}
