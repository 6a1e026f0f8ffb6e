package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultAPIBaseURL         = "http://localhost:8080"
	defaultWSURL              = "ws://localhost:8080"
	defaultHistoryLimit       = 200
	defaultRecentLimit        = 20
	defaultReconnectRetries   = 5
	defaultReconnectBaseDelay = "500ms"
	defaultReconnectMaxDelay  = "10s"
	defaultConfigRelativePath = ".config/dmchat/config.toml"

	envAPIBaseURL   = "DMCHAT_API_BASE_URL"
	envWSURL        = "DMCHAT_WS_URL"
	envHistoryLimit = "DMCHAT_HISTORY_LIMIT"
	envRecentLimit  = "DMCHAT_RECENT_LIMIT"
	envEmail        = "DMCHAT_EMAIL"
	envPassword     = "DMCHAT_PASSWORD"
	envToken        = "DMCHAT_TOKEN"
	envUserID       = "DMCHAT_USER_ID"
	envReconnect    = "DMCHAT_RECONNECT"
	envLogLevel     = "DMCHAT_LOG_LEVEL"
	envLogPretty    = "DMCHAT_LOG_PRETTY"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Client is the dmchat client configuration root.
type Client struct {
	APIBaseURL   string          `toml:"api_base_url"`
	WSURL        string          `toml:"ws_url"`
	HistoryLimit int             `toml:"history_limit"`
	RecentLimit  int             `toml:"recent_limit"`
	Auth         ClientAuth      `toml:"auth"`
	Reconnect    ReconnectConfig `toml:"reconnect"`
	Log          LogConfig       `toml:"log"`
}

// ClientAuth holds either password credentials or a pre-issued token.
type ClientAuth struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
}

// ReconnectConfig stores the opt-in reconnect policy as config-friendly values.
type ReconnectConfig struct {
	Enabled    bool   `toml:"enabled"`
	MaxRetries int    `toml:"max_retries"`
	BaseDelay  string `toml:"base_delay"`
	MaxDelay   string `toml:"max_delay"`
}

// LoadOptions controls where the client config is read from.
type LoadOptions struct {
	Path string
}

// DefaultClient returns the built-in client configuration.
func DefaultClient() Client {
	return Client{
		APIBaseURL:   defaultAPIBaseURL,
		WSURL:        defaultWSURL,
		HistoryLimit: defaultHistoryLimit,
		RecentLimit:  defaultRecentLimit,
		Reconnect: ReconnectConfig{
			MaxRetries: defaultReconnectRetries,
			BaseDelay:  defaultReconnectBaseDelay,
			MaxDelay:   defaultReconnectMaxDelay,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadClient merges defaults, the TOML file and environment overrides.
// A missing file at the default location is not an error; a missing file
// at an explicit path is.
func LoadClient(opts LoadOptions) (Client, error) {
	cfg := DefaultClient()

	path := strings.TrimSpace(opts.Path)
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, defaultConfigRelativePath)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Client{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Client{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyClientEnv(&cfg); err != nil {
		return Client{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.WSURL = strings.TrimRight(cfg.WSURL, "/")
	return cfg, nil
}

func applyClientEnv(cfg *Client) error {
	if v := strings.TrimSpace(os.Getenv(envAPIBaseURL)); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envWSURL)); v != "" {
		cfg.WSURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envEmail)); v != "" {
		cfg.Auth.Email = v
	}
	if v := os.Getenv(envPassword); v != "" {
		cfg.Auth.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(envToken)); v != "" {
		cfg.Auth.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(envUserID)); v != "" {
		cfg.Auth.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		cfg.Log.Level = v
	}

	limit, err := parseOptionalIntEnv(envHistoryLimit)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if limit != nil {
		cfg.HistoryLimit = *limit
	}

	limit, err = parseOptionalIntEnv(envRecentLimit)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if limit != nil {
		cfg.RecentLimit = *limit
	}

	reconnect, err := parseBoolEnv(envReconnect, cfg.Reconnect.Enabled)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Reconnect.Enabled = reconnect

	pretty, err := parseBoolEnv(envLogPretty, cfg.Log.Pretty)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Log.Pretty = pretty
	return nil
}

// Validate checks value ranges and duration syntax.
func (c Client) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("%w: api_base_url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.WSURL) == "" {
		return fmt.Errorf("%w: ws_url is required", ErrInvalidConfig)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("%w: history_limit must be positive, got %d", ErrInvalidConfig, c.HistoryLimit)
	}
	if c.RecentLimit < 1 {
		return fmt.Errorf("%w: recent_limit must be positive, got %d", ErrInvalidConfig, c.RecentLimit)
	}
	if _, _, err := c.Reconnect.Delays(); err != nil {
		return err
	}
	return nil
}

// Delays parses the base and max reconnect delays.
func (r ReconnectConfig) Delays() (time.Duration, time.Duration, error) {
	base, err := parseDuration("reconnect.base_delay", r.BaseDelay, defaultReconnectBaseDelay)
	if err != nil {
		return 0, 0, err
	}
	maxDelay, err := parseDuration("reconnect.max_delay", r.MaxDelay, defaultReconnectMaxDelay)
	if err != nil {
		return 0, 0, err
	}
	return base, maxDelay, nil
}

func parseDuration(field, raw, fallback string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, field)
	}
	return d, nil
}
