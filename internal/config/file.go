package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig 是 CONFIG_FILE 的 YAML 结构，未出现的字段保持默认值。
type fileConfig struct {
	Server struct {
		Addr            string `yaml:"addr"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Chat struct {
		MaxTurns        int    `yaml:"max_turns"`
		IdleTimeout     string `yaml:"idle_timeout"`
		SweepInterval   string `yaml:"sweep_interval"`
		UpstreamTimeout string `yaml:"upstream_timeout"`
		MaxImageBytes   int    `yaml:"max_image_bytes"`
		MaxBodyBytes    int64  `yaml:"max_body_bytes"`
	} `yaml:"chat"`
	LLM struct {
		Provider     string `yaml:"provider"`
		SystemPrompt string `yaml:"system_prompt"`
		OpenAI       struct {
			APIKey      string   `yaml:"api_key"`
			Model       string   `yaml:"model"`
			BaseURL     string   `yaml:"base_url"`
			Temperature *float64 `yaml:"temperature"`
		} `yaml:"openai"`
		Ark struct {
			APIKey      string   `yaml:"api_key"`
			AccessKey   string   `yaml:"access_key"`
			SecretKey   string   `yaml:"secret_key"`
			Model       string   `yaml:"model"`
			BaseURL     string   `yaml:"base_url"`
			Region      string   `yaml:"region"`
			Temperature *float64 `yaml:"temperature"`
			TopP        *float64 `yaml:"top_p"`
			MaxTokens   *int     `yaml:"max_tokens"`
		} `yaml:"ark"`
	} `yaml:"llm"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Metrics struct {
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars 将 ${VAR_NAME} 替换为对应的环境变量，未设置时替换为空串。
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fc.Server.Addr != "" {
		cfg.Server.Addr = fc.Server.Addr
	}
	if err := setDuration(&cfg.Server.ShutdownTimeout, "server.shutdown_timeout", fc.Server.ShutdownTimeout); err != nil {
		return err
	}

	if fc.Chat.MaxTurns != 0 {
		cfg.Chat.MaxTurns = fc.Chat.MaxTurns
	}
	if fc.Chat.MaxImageBytes != 0 {
		cfg.Chat.MaxImageBytes = fc.Chat.MaxImageBytes
	}
	if fc.Chat.MaxBodyBytes != 0 {
		cfg.Chat.MaxBodyBytes = fc.Chat.MaxBodyBytes
	}
	durations := []struct {
		dst  *time.Duration
		name string
		raw  string
	}{
		{&cfg.Chat.IdleTimeout, "chat.idle_timeout", fc.Chat.IdleTimeout},
		{&cfg.Chat.SweepInterval, "chat.sweep_interval", fc.Chat.SweepInterval},
		{&cfg.Chat.UpstreamTimeout, "chat.upstream_timeout", fc.Chat.UpstreamTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.name, d.raw); err != nil {
			return err
		}
	}

	setString(&cfg.LLM.Provider, fc.LLM.Provider)
	setString(&cfg.LLM.SystemPrompt, fc.LLM.SystemPrompt)
	setString(&cfg.LLM.OpenAI.APIKey, fc.LLM.OpenAI.APIKey)
	setString(&cfg.LLM.OpenAI.Model, fc.LLM.OpenAI.Model)
	setString(&cfg.LLM.OpenAI.BaseURL, fc.LLM.OpenAI.BaseURL)
	if fc.LLM.OpenAI.Temperature != nil {
		cfg.LLM.OpenAI.Temperature = *fc.LLM.OpenAI.Temperature
	}
	setString(&cfg.LLM.Ark.APIKey, fc.LLM.Ark.APIKey)
	setString(&cfg.LLM.Ark.AccessKey, fc.LLM.Ark.AccessKey)
	setString(&cfg.LLM.Ark.SecretKey, fc.LLM.Ark.SecretKey)
	setString(&cfg.LLM.Ark.Model, fc.LLM.Ark.Model)
	setString(&cfg.LLM.Ark.BaseURL, fc.LLM.Ark.BaseURL)
	setString(&cfg.LLM.Ark.Region, fc.LLM.Ark.Region)
	if fc.LLM.Ark.Temperature != nil {
		cfg.LLM.Ark.Temperature = fc.LLM.Ark.Temperature
	}
	if fc.LLM.Ark.TopP != nil {
		cfg.LLM.Ark.TopP = fc.LLM.Ark.TopP
	}
	if fc.LLM.Ark.MaxTokens != nil {
		cfg.LLM.Ark.MaxTokens = fc.LLM.Ark.MaxTokens
	}

	if fc.Logging.Level != "" {
		cfg.Logging.Level = parseLogLevel(fc.Logging.Level)
	}
	setString(&cfg.Logging.File, fc.Logging.File)
	setString(&cfg.Metrics.Namespace, fc.Metrics.Namespace)
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}
