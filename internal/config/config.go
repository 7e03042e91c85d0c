package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	BaseURL        string        `validate:"required,url"`
	WSURL          string        `validate:"required,url"`
	DBFile         string        `validate:"required"`
	MediaPath      string        `validate:"required"`
	Locale         string        `validate:"required"`
	AdminAddr      string        `validate:"required,hostname_port"`
	RequestTimeout time.Duration `validate:"gt=0"`
	PageSize       int           `validate:"min=1,max=200"`
	ProbeAddr      string        `validate:"required,hostname_port"`
	ProbeInterval  time.Duration `validate:"gt=0"`
	LogLevel       string        `validate:"oneof=debug info warn error"`
	AccessToken    string
	RefreshToken   string
}

// Load reads the configuration from the environment, after applying an
// optional .env file. In CLI mode only the admin address is needed.
func Load(cliMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	requestTimeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	probeInterval, err := time.ParseDuration(getEnv("PROBE_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_INTERVAL: %w", err)
	}
	pageSize, err := strconv.Atoi(getEnv("PAGE_SIZE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAGE_SIZE: %w", err)
	}

	baseURL := strings.TrimRight(getEnv("CHAT_BASE_URL", "http://localhost:8080"), "/")
	cfg := &Config{
		BaseURL:        baseURL,
		WSURL:          strings.TrimRight(getEnv("CHAT_WS_URL", wsURL(baseURL)), "/"),
		DBFile:         getEnv("CHAT_DB", "chatclient.db"),
		MediaPath:      getEnv("MEDIA_PATH", "media"),
		Locale:         getEnv("CHAT_LOCALE", "en"),
		AdminAddr:      getEnv("ADMIN_ADDR", "localhost:8091"),
		RequestTimeout: requestTimeout,
		PageSize:       pageSize,
		ProbeAddr:      getEnv("PROBE_ADDR", hostPort(baseURL)),
		ProbeInterval:  probeInterval,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AccessToken:    os.Getenv("ACCESS_TOKEN"),
		RefreshToken:   os.Getenv("REFRESH_TOKEN"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	validate := validator.New()
	if cliMode {
		if err := validate.Var(c.AdminAddr, "required,hostname_port"); err != nil {
			return fmt.Errorf("ADMIN_ADDR is invalid: %w", err)
		}
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}

func hostPort(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
