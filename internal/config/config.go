package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlaceholderAPIKey 是部署模板中的占位密钥，出现时视为未配置。
const PlaceholderAPIKey = "sk-xxx"

// Provider 标识大模型后端。
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderArk    Provider = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Profile ProfileConfig
	AI      AIConfig
	Session SessionConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	profile, err := loadProfileConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Auth: auth, Profile: profile, AI: ai, Session: session, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://react-client",
	"http://react-client:80",
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := parseListEnv("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins)

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AuthConfig 描述 JWT 校验所需的算法与密钥材料。
type AuthConfig struct {
	Algorithm string
	Secret    string
	PublicKey string
}

func loadAuthConfig() (AuthConfig, error) {
	cfg := AuthConfig{
		Algorithm: strings.ToUpper(getEnvOrDefault("JWT_ALGORITHM", "HS256")),
		Secret:    os.Getenv("JWT_SECRET"),
		PublicKey: strings.TrimSpace(os.Getenv("JWT_PUBLIC_KEY")),
	}

	switch {
	case strings.HasPrefix(cfg.Algorithm, "HS"):
		if cfg.Secret == "" {
			return AuthConfig{}, fmt.Errorf("JWT_SECRET is required for %s", cfg.Algorithm)
		}
	case strings.HasPrefix(cfg.Algorithm, "RS"), strings.HasPrefix(cfg.Algorithm, "ES"):
		if cfg.PublicKey == "" {
			return AuthConfig{}, fmt.Errorf("JWT_PUBLIC_KEY is required for %s", cfg.Algorithm)
		}
	default:
		return AuthConfig{}, fmt.Errorf("unsupported JWT_ALGORITHM %q", cfg.Algorithm)
	}

	return cfg, nil
}

// ProfileConfig 描述用户资料服务的地址模板与超时。
type ProfileConfig struct {
	URLTemplate string
	Timeout     time.Duration
}

func loadProfileConfig() (ProfileConfig, error) {
	timeout, err := parseDurationEnv("PROFILE_TIMEOUT", 5*time.Second)
	if err != nil {
		return ProfileConfig{}, err
	}

	return ProfileConfig{
		URLTemplate: getEnvOrDefault("USER_SERVICE_URL", "http://usermanagement-service:8080/api/users/{user_id}/profile"),
		Timeout:     timeout,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    Provider
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Enabled 表示是否提供了可用的模型凭证；占位密钥视为未配置。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.APIKey != "" && c.APIKey != PlaceholderAPIKey {
		return true
	}
	return c.Provider == ProviderArk && c.AccessKey != "" && c.SecretKey != ""
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("AI_PROVIDER", string(ProviderOpenAI))))

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		val := 0.7
		temperature = &val
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		val := 150
		maxTokens = &val
	}
	if *maxTokens < 1 {
		return AIConfig{}, fmt.Errorf("invalid AI_MAX_TOKENS value %d: must be positive", *maxTokens)
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider:    provider,
		Temperature: *temperature,
		MaxTokens:   *maxTokens,
		Timeout:     timeout,
	}

	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = getEnvOrDefault("OPENAI_API_KEY", PlaceholderAPIKey)
		cfg.Model = getEnvOrDefault("OPENAI_MODEL", "gpt-3.5-turbo")
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Model = strings.TrimSpace(os.Getenv("ARK_MODEL"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	default:
		return AIConfig{}, fmt.Errorf("unsupported AI_PROVIDER %q", provider)
	}

	return cfg, nil
}

// SessionConfig 控制可选的空闲会话回收。IdleTTL 为 0 时不回收。
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_IDLE_TTL", 0)
	if err != nil {
		return SessionConfig{}, err
	}

	interval, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	if ttl > 0 && interval <= 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_SWEEP_INTERVAL value %s: must be positive", interval)
	}

	return SessionConfig{IdleTTL: ttl, SweepInterval: interval}, nil
}

// LogConfig 描述 slog 输出格式与级别。
type LogConfig struct {
	Level  slog.Level
	Format string
}

func loadLogConfig() (LogConfig, error) {
	var level slog.Level
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}

	return LogConfig{Level: level, Format: format}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), defaultValue...)
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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
