package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(false)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "ws://localhost:8080", cfg.WSURL)
	assert.Equal(t, "localhost:8080", cfg.ProbeAddr)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHAT_BASE_URL", "https://chat.example.com/")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(false)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.BaseURL)
	assert.Equal(t, "wss://chat.example.com", cfg.WSURL)
	assert.Equal(t, "chat.example.com:443", cfg.ProbeAddr)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"REQUEST_TIMEOUT", "soon"},
		{"PAGE_SIZE", "0"},
		{"PAGE_SIZE", "many"},
		{"LOG_LEVEL", "loud"},
		{"CHAT_BASE_URL", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)
			_, err := Load(false)
			assert.Error(t, err)
		})
	}
}

func TestLoad_CLIModeNeedsOnlyAdminAddr(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := Load(true)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8091", cfg.AdminAddr)
}
