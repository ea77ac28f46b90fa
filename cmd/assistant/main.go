package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beocch/telegram-ai-assistant/internal/channel"
	"github.com/beocch/telegram-ai-assistant/internal/config"
	"github.com/beocch/telegram-ai-assistant/internal/history"
	"github.com/beocch/telegram-ai-assistant/internal/provider"
	"github.com/beocch/telegram-ai-assistant/internal/ratelimit"
	"github.com/beocch/telegram-ai-assistant/internal/router"
	"github.com/beocch/telegram-ai-assistant/internal/settings"
	"github.com/beocch/telegram-ai-assistant/internal/stats"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "assistant",
		Short:   "Telegram AI assistant with multiple provider backends",
		Long:    "A Telegram bot that answers messages through OpenAI- or Claude-style APIs,\nwith per-user API keys, conversation memory and usage statistics.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.telegram-assistant/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("config written", "path", cfgPath)
			fmt.Println("Edit the config (or set TELEGRAM_BOT_TOKEN, OPENAI_API_KEY, CLAUDE_API_KEY) and run: assistant run")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Telegram bot",
		Long:  "Connects to Telegram and serves messages until interrupted.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = newLogger(cfg.General.LogLevel)

	if cfg.Telegram.Token == "" || strings.HasPrefix(cfg.Telegram.Token, "${") {
		return fmt.Errorf("telegram token not configured (set telegram.token or TELEGRAM_BOT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settingsStore, err := settings.New(cfg.Settings.Path, logger)
	if err != nil {
		return fmt.Errorf("settings store: %w", err)
	}

	historyStore := history.New(history.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Depth:    cfg.General.HistoryDepth,
		TTL:      time.Duration(cfg.Redis.HistoryTTLSeconds) * time.Second,
		Logger:   logger,
	})
	defer historyStore.Close()

	if err := historyStore.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup, conversations will be stateless until it recovers",
			"addr", cfg.Redis.Addr, "err", err)
	}

	recorder, err := stats.NewRecorder(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("usage recorder: %w", err)
	}
	defer recorder.Close()

	rt := router.New(router.Config{
		Settings:     settingsStore,
		History:      historyStore,
		SystemPrompt: cfg.General.SystemPrompt,
		HistoryDepth: cfg.General.HistoryDepth,
		Logger:       logger,
	})

	names, providers := provider.FromConfig(cfg, logger)
	if len(names) == 0 {
		logger.Warn("no provider enabled in config; only user-supplied API keys will work")
	}
	for _, name := range names {
		rt.Register(name, providers[name])
	}
	if cfg.General.DefaultProvider != "" {
		rt.SetDefault(cfg.General.DefaultProvider)
	}

	limiter := ratelimit.New(cfg.General.RateLimitPerMinute, time.Minute)

	tg := channel.NewTelegram(channel.Config{
		Token:     cfg.Telegram.Token,
		AllowFrom: cfg.Telegram.AllowFrom,
		Router:    rt,
		Limiter:   limiter,
		History:   historyStore,
		Settings:  settingsStore,
		Usage:     recorder,
		Logger:    logger,
	})

	logger.Info("assistant starting", "version", version, "providers", names)
	return tg.Start(ctx)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config, provider and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			names, providers := provider.FromConfig(cfg, logger)
			if len(names) == 0 {
				logger.Info("providers", "enabled", 0)
			}
			for _, name := range names {
				logger.Info("provider", "name", name, "credential_ok", providers[name].Validate())
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store := history.New(history.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Logger:   logger,
			})
			defer store.Close()
			if err := store.Ping(ctx); err != nil {
				logger.Info("redis", "addr", cfg.Redis.Addr, "reachable", false, "err", err)
			} else {
				logger.Info("redis", "addr", cfg.Redis.Addr, "reachable", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
