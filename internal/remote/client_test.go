package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	session *auth.Session
}

func (m *memStore) LoadSession() (auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return auth.Session{}, models.ErrNotFound
	}
	return *m.session, nil
}

func (m *memStore) SaveSession(s auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *memStore) DeleteSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func newProvider(t *testing.T, s *auth.Session) *auth.Provider {
	t.Helper()
	p, err := auth.NewProvider(&memStore{session: s})
	require.NoError(t, err)
	return p
}

func session() *auth.Session {
	return &auth.Session{UserID: "alice", AccessToken: "old", RefreshToken: "refresh-1"}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{400, models.ErrBadRequest},
		{401, models.ErrUnauthorized},
		{403, models.ErrForbidden},
		{404, models.ErrRemoteNotFound},
		{408, models.ErrRequestTimeout},
		{409, models.ErrConflict},
		{413, models.ErrPayloadTooLarge},
		{429, models.ErrTooManyRequests},
		{500, models.ErrServerError},
		{503, models.ErrServerError},
		{502, models.ErrRemoteUnknown},
		{418, models.ErrRemoteUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusError(tt.status), "status %d", tt.status)
	}
}

func TestClient_FetchChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats", r.URL.Path)
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		assert.Equal(t, "de", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte(`[{
			"id":"c1","isGroupChat":false,
			"participants":[{"userId":"alice","username":"Alice","email":"a@x"},{"userId":"bob","username":"Bob","email":"b@x"}],
			"lastMessage":{"id":"m1","chatId":"c1","senderId":"bob","content":"hi","messageType":"TEXT","createdAt":"2024-05-01T10:00:00Z"}
		}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "de", time.Second, 20, newProvider(t, session()))
	chats, err := c.FetchChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)

	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	chat := chats[0].ToChat(now)
	assert.Len(t, chat.Participants, 2)
	require.NotNil(t, chat.LastMessage)
	assert.Equal(t, models.DeliverySent, chat.LastMessage.DeliveryStatus)
	assert.True(t, chat.LastActivityAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestClient_FetchMessagesQuery(t *testing.T) {
	before := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/c1/messages", r.URL.Path)
		assert.Equal(t, "2024-05-01T10:00:00Z", r.URL.Query().Get("before"))
		assert.Equal(t, "20", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`[{"id":"m0","chatId":"c1","content":"older","createdAt":"2024-05-01T09:00:00Z"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, 20, newProvider(t, session()))
	msgs, err := c.FetchMessages(context.Background(), "c1", before)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m0", msgs[0].ID)
}

func TestClient_Errors(t *testing.T) {
	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := New(srv.URL, "", time.Second, 20, newProvider(t, session())).FetchChats(context.Background())
		assert.ErrorIs(t, err, models.ErrServerError)
	})

	t.Run("Serialization", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		_, err := New(srv.URL, "", time.Second, 20, newProvider(t, session())).FetchChats(context.Background())
		assert.ErrorIs(t, err, models.ErrSerialization)
	})

	t.Run("NoInternet", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := New(url, "", time.Second, 20, newProvider(t, session())).FetchChats(context.Background())
		assert.ErrorIs(t, err, models.ErrNoInternet)
	})

	t.Run("NoSession", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer srv.Close()

		_, err := New(srv.URL, "", time.Second, 20, newProvider(t, nil)).FetchChats(context.Background())
		assert.ErrorIs(t, err, auth.ErrNoSession)
		assert.Zero(t, calls.Load())
	})
}

func TestClient_RefreshOnUnauthorized(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			refreshes.Add(1)
			var req refreshRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "refresh-1", req.RefreshToken)
			writeJSON(t, w, refreshResponse{AccessToken: "new", RefreshToken: "refresh-2"})
			return
		}
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	provider := newProvider(t, session())
	c := New(srv.URL, "", time.Second, 20, provider)

	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() {
			_, err := c.FetchChats(context.Background())
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), refreshes.Load())
	cur := provider.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "new", cur.AccessToken)
	assert.Equal(t, "refresh-2", cur.RefreshToken)
	assert.Equal(t, "alice", cur.UserID)
}

func TestClient_RejectedRefreshSignsOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider := newProvider(t, session())
	_, err := New(srv.URL, "", time.Second, 20, provider).FetchChats(context.Background())
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, provider.Current())
}

func TestClient_DeleteMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/messages/m1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, "", time.Second, 20, newProvider(t, session())).DeleteMessage(context.Background(), "m1"))
}
