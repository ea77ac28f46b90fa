package config

import "path/filepath"

// Defaults returns a config with sensible defaults. Values are chosen so the
// bot runs against a local Redis and a SQLite file with no providers enabled;
// providers are switched on by filling in API keys.
func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		General: GeneralConfig{
			LogLevel:           "info",
			HistoryDepth:       10,
			RateLimitPerMinute: 30,
		},
		Telegram: TelegramConfig{
			Token: "${TELEGRAM_BOT_TOKEN}",
		},
		Redis: RedisConfig{
			Addr:              "localhost:6379",
			DB:                0,
			HistoryTTLSeconds: 86400,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dir, "bot_data.db"),
		},
		Settings: SettingsConfig{
			Path: filepath.Join(dir, "user_settings.json"),
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      false,
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-3.5-turbo",
				MaxTokens:    1000,
				Temperature:  0.7,
			},
			"claude": {
				Enabled:      false,
				APIKey:       "${CLAUDE_API_KEY}",
				DefaultModel: "claude-3-haiku-20240307",
				MaxTokens:    1000,
				Temperature:  0.7,
			},
		},
	}
}
