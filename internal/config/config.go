package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the assistant.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Telegram  TelegramConfig            `json:"telegram"`
	Redis     RedisConfig               `json:"redis"`
	Database  DatabaseConfig            `json:"database"`
	Settings  SettingsConfig            `json:"settings"`
	Providers map[string]ProviderConfig `json:"providers"`
}

type GeneralConfig struct {
	LogLevel           string `json:"logLevel"`
	HistoryDepth       int    `json:"historyDepth"`       // user+assistant pairs kept as context
	RateLimitPerMinute int    `json:"rateLimitPerMinute"` // per-user message ceiling
	DefaultProvider    string `json:"defaultProvider,omitempty"`
	SystemPrompt       string `json:"systemPrompt,omitempty"` // overrides the built-in preamble
}

type TelegramConfig struct {
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type RedisConfig struct {
	Addr              string `json:"addr"`
	Password          string `json:"password,omitempty"`
	DB                int    `json:"db"`
	HistoryTTLSeconds int    `json:"historyTtlSeconds"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type SettingsConfig struct {
	Path string `json:"path"`
}

type ProviderConfig struct {
	Enabled      bool    `json:"enabled"`
	APIKey       string  `json:"apiKey,omitempty"`
	APIBase      string  `json:"apiBase,omitempty"`
	DefaultModel string  `json:"defaultModel,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.telegram-assistant).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".telegram-assistant"
	}
	return filepath.Join(home, ".telegram-assistant")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Settings.Path = ExpandPath(cfg.Settings.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.HistoryDepth < 1 {
		errs = append(errs, "general.historyDepth must be >= 1")
	}
	if cfg.General.RateLimitPerMinute < 1 {
		errs = append(errs, "general.rateLimitPerMinute must be >= 1")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Redis.HistoryTTLSeconds < 1 {
		errs = append(errs, "redis.historyTtlSeconds must be >= 1")
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, "redis.db must be >= 0")
	}

	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}
	for name, pc := range cfg.Providers {
		if pc.Temperature < 0 || pc.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("providers.%s: temperature must be between 0 and 2", name))
		}
		if pc.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: maxTokens must be >= 0", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
