package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM provider identifiers.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// placeholderAPIKey 是示例 .env 中的占位密钥，视同未配置。
const placeholderAPIKey = "sk-dummy-key-for-now"

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Chat    ChatConfig
	LLM     LLMConfig
	Logging LoggingConfig
	Metrics MetricsConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// ChatConfig 描述会话存储与请求编排的参数。
type ChatConfig struct {
	MaxTurns        int
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	UpstreamTimeout time.Duration
	MaxImageBytes   int
	MaxBodyBytes    int64
}

// LLMConfig 描述上游大模型配置。
type LLMConfig struct {
	Provider     string
	SystemPrompt string
	OpenAI       OpenAIConfig
	Ark          ArkConfig
}

// OpenAIConfig 描述 OpenAI 兼容接口配置。
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// LoggingConfig 描述日志输出。
type LoggingConfig struct {
	Level slog.Level
	File  string
}

// MetricsConfig 描述 Prometheus 指标。
type MetricsConfig struct {
	Namespace string
}

// Defaults 返回未做任何覆盖时的配置。
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3001",
			ShutdownTimeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			MaxTurns:        10,
			IdleTimeout:     30 * time.Minute,
			SweepInterval:   5 * time.Minute,
			UpstreamTimeout: 30 * time.Second,
			MaxImageBytes:   5 * 1024 * 1024,
			MaxBodyBytes:    10 * 1024 * 1024,
		},
		LLM: LLMConfig{
			OpenAI: OpenAIConfig{
				Model:       "gpt-4-turbo",
				Temperature: 0.7,
			},
			Ark: ArkConfig{
				BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
				Region:  "cn-beijing",
			},
		},
		Logging: LoggingConfig{Level: slog.LevelInfo},
		Metrics: MetricsConfig{Namespace: "projectq"},
	}
}

// Load 先读取 CONFIG_FILE 指定的 YAML（可选），再用环境变量覆盖。
func Load() (*Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查数值型配置是否合法。
func (c *Config) Validate() error {
	switch {
	case c.Chat.MaxTurns < 1:
		return fmt.Errorf("chat max turns must be positive, got %d", c.Chat.MaxTurns)
	case c.Chat.IdleTimeout <= 0:
		return fmt.Errorf("chat idle timeout must be positive, got %s", c.Chat.IdleTimeout)
	case c.Chat.SweepInterval <= 0:
		return fmt.Errorf("chat sweep interval must be positive, got %s", c.Chat.SweepInterval)
	case c.Chat.UpstreamTimeout <= 0:
		return fmt.Errorf("chat upstream timeout must be positive, got %s", c.Chat.UpstreamTimeout)
	case c.Chat.MaxImageBytes < 1:
		return fmt.Errorf("chat max image bytes must be positive, got %d", c.Chat.MaxImageBytes)
	case c.Chat.MaxBodyBytes < 1:
		return fmt.Errorf("chat max body bytes must be positive, got %d", c.Chat.MaxBodyBytes)
	}

	switch c.LLM.Provider {
	case "", ProviderOpenAI, ProviderArk:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

// ResolvedProvider 返回实际使用的模型提供方；未显式指定时按已配置的凭证推断。
func (c LLMConfig) ResolvedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	if c.OpenAI.APIKey != "" {
		return ProviderOpenAI
	}
	if c.Ark.Enabled() {
		return ProviderArk
	}
	return ProviderOpenAI
}

// Enabled 表示当前提供方是否具备可用凭证。
func (c LLMConfig) Enabled() bool {
	switch c.ResolvedProvider() {
	case ProviderArk:
		return c.Ark.Enabled()
	default:
		return c.OpenAI.Enabled()
	}
}

// Enabled 表示是否提供了可用的 API Key。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != "" && c.APIKey != placeholderAPIKey
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

func applyEnv(cfg *Config) error {
	addr, err := parseAddr(strings.TrimSpace(os.Getenv("PORT")), cfg.Server.Addr)
	if err != nil {
		return err
	}
	cfg.Server.Addr = addr

	if cfg.Server.ShutdownTimeout, err = parseDurationEnv("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}

	if err := applyChatEnv(&cfg.Chat); err != nil {
		return err
	}
	if err := applyLLMEnv(&cfg.LLM); err != nil {
		return err
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		cfg.Logging.Level = parseLogLevel(raw)
	}
	cfg.Logging.File = getEnvOrDefault("LOG_FILE", cfg.Logging.File)
	cfg.Metrics.Namespace = getEnvOrDefault("METRICS_NAMESPACE", cfg.Metrics.Namespace)
	return nil
}

func applyChatEnv(chat *ChatConfig) error {
	var err error
	if chat.MaxTurns, err = parseIntEnv("CHAT_MAX_TURNS", chat.MaxTurns); err != nil {
		return err
	}
	if chat.IdleTimeout, err = parseDurationEnv("CHAT_IDLE_TIMEOUT", chat.IdleTimeout); err != nil {
		return err
	}
	if chat.SweepInterval, err = parseDurationEnv("CHAT_SWEEP_INTERVAL", chat.SweepInterval); err != nil {
		return err
	}
	if chat.UpstreamTimeout, err = parseDurationEnv("CHAT_UPSTREAM_TIMEOUT", chat.UpstreamTimeout); err != nil {
		return err
	}
	if chat.MaxImageBytes, err = parseIntEnv("CHAT_MAX_IMAGE_BYTES", chat.MaxImageBytes); err != nil {
		return err
	}
	maxBody, err := parseIntEnv("CHAT_MAX_BODY_BYTES", int(chat.MaxBodyBytes))
	if err != nil {
		return err
	}
	chat.MaxBodyBytes = int64(maxBody)
	return nil
}

func applyLLMEnv(llm *LLMConfig) error {
	llm.Provider = strings.ToLower(getEnvOrDefault("LLM_PROVIDER", llm.Provider))
	llm.SystemPrompt = getEnvOrDefault("CHAT_SYSTEM_PROMPT", llm.SystemPrompt)

	llm.OpenAI.APIKey = getEnvOrDefault("OPENAI_API_KEY", llm.OpenAI.APIKey)
	llm.OpenAI.Model = getEnvOrDefault("OPENAI_MODEL", llm.OpenAI.Model)
	llm.OpenAI.BaseURL = getEnvOrDefault("OPENAI_BASE_URL", llm.OpenAI.BaseURL)
	temperature, err := parseOptionalFloatEnv("OPENAI_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		llm.OpenAI.Temperature = *temperature
	}

	llm.Ark.APIKey = getEnvOrDefault("ARK_API_KEY", llm.Ark.APIKey)
	llm.Ark.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", llm.Ark.AccessKey)
	llm.Ark.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", llm.Ark.SecretKey)
	llm.Ark.Model = getEnvOrDefault("Model", llm.Ark.Model)
	llm.Ark.BaseURL = getEnvOrDefault("ARK_BASE_URL", llm.Ark.BaseURL)
	llm.Ark.Region = getEnvOrDefault("ARK_REGION", llm.Ark.Region)

	if llm.Ark.Temperature, err = overrideFloat("ARK_TEMPERATURE", llm.Ark.Temperature); err != nil {
		return err
	}
	if llm.Ark.TopP, err = overrideFloat("ARK_TOP_P", llm.Ark.TopP); err != nil {
		return err
	}
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		llm.Ark.MaxTokens = maxTokens
	}
	return nil
}

// parseAddr 解析服务器监听地址。
func parseAddr(port, fallback string) (string, error) {
	if port == "" {
		return fallback, nil
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3001" 或 "127.0.0.1:3001"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func overrideFloat(key string, current *float64) (*float64, error) {
	val, err := parseOptionalFloatEnv(key)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return current, nil
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return d, nil
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
