package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/dmchat/internal/model/user"
)

// RelayConfig 聚合中继服务的配置项。
type RelayConfig struct {
	Server ServerConfig
	Auth   AuthConfig
	Log    LogConfig
	Env    string
}

// LoadRelay 从环境变量加载中继配置。
func LoadRelay() (*RelayConfig, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return nil, err
	}

	return &RelayConfig{
		Server: server,
		Auth:   auth,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: pretty,
		},
		Env: getEnvOrDefault("RELAY_ENV", "development"),
	}, nil
}

// IsDevelopment 表示是否运行在开发模式。
func (c *RelayConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("RELAY_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AuthConfig 描述开发目录账号与令牌有效期。
type AuthConfig struct {
	Accounts []user.Account
	TokenTTL time.Duration
}

func loadAuthConfig() (AuthConfig, error) {
	ttl := 15 * time.Minute
	seconds, err := parseOptionalIntEnv("RELAY_TOKEN_TTL")
	if err != nil {
		return AuthConfig{}, err
	}
	if seconds != nil {
		if *seconds < 1 {
			return AuthConfig{}, fmt.Errorf("invalid RELAY_TOKEN_TTL value %d: must be positive", *seconds)
		}
		ttl = time.Duration(*seconds) * time.Second
	}

	accounts, err := parseAccounts(os.Getenv("RELAY_USERS"))
	if err != nil {
		return AuthConfig{}, err
	}
	if len(accounts) == 0 {
		accounts = user.Seed()
	}

	return AuthConfig{Accounts: accounts, TokenTTL: ttl}, nil
}

// parseAccounts 解析 "email:password[:uid],..." 形式的账号列表。
func parseAccounts(raw string) ([]user.Account, error) {
	var accounts []user.Account
	for _, entry := range splitList(raw) {
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid RELAY_USERS entry %q", entry)
		}
		account := user.Account{Email: parts[0], Password: parts[1]}
		if len(parts) == 3 && parts[2] != "" {
			account.ID = parts[2]
		} else {
			account.ID = "u-" + strings.ToLower(strings.SplitN(parts[0], "@", 2)[0])
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// LogConfig 描述日志级别与输出格式。
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
