// Package channel connects the assistant to Telegram. The transport is kept
// deliberately thin: parse the update, consult the rate limiter, hand the
// text to the router and deliver whatever comes back.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/beocch/telegram-ai-assistant/internal/domain"
	"github.com/beocch/telegram-ai-assistant/internal/ratelimit"
	"github.com/beocch/telegram-ai-assistant/internal/router"
	"github.com/beocch/telegram-ai-assistant/internal/settings"
	"github.com/beocch/telegram-ai-assistant/internal/stats"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3

	rateLimitedText = "⚠️ Too many requests! Please wait a moment before sending the next message."
)

// sender is the slice of the Bot API the outbound path needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UsageStore is the telemetry surface the channel consumes: the recording
// sink plus the queries behind /stats and /clear. *stats.Recorder satisfies it.
type UsageStore interface {
	domain.UsageRecorder
	UserStats(ctx context.Context, userID int64) (*stats.UserStats, error)
	ClearInteractions(ctx context.Context, userID int64) error
}

// Telegram long-polls the Bot API and drives the request path for each update.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)

	bot      sender
	router   *router.Router
	limiter  *ratelimit.Limiter
	history  domain.ConversationStore
	settings *settings.Store
	usage    UsageStore
	logger   *slog.Logger
}

type Config struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Router    *router.Router
	Limiter   *ratelimit.Limiter
	History   domain.ConversationStore
	Settings  *settings.Store
	Usage     UsageStore
	Logger    *slog.Logger
}

func NewTelegram(cfg Config) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		router:    cfg.Router,
		limiter:   cfg.Limiter,
		history:   cfg.History,
		settings:  cfg.Settings,
		usage:     cfg.Usage,
		logger:    cfg.Logger,
	}
}

// Start connects to Telegram and begins polling for updates. Blocks until
// the context is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", msg.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	switch {
	case msg.IsCommand():
		t.handleCommand(ctx, userID, chatID, msg)
	case msg.Text != "":
		t.handleText(ctx, userID, chatID, msg.Text)
	case msg.Photo != nil:
		t.sendMessage(chatID, "📸 I see you sent a photo!\n\nI can't analyze images yet — please describe what you'd like to know as text.")
		t.usage.Record(ctx, userID, chatID, "photo", "photo", 0, 0)
	case msg.Document != nil:
		t.sendMessage(chatID, "📄 I see you sent a document!\n\nI can't process files yet — please paste the text into a message.")
		t.usage.Record(ctx, userID, chatID, "document", "document", 0, 0)
	case msg.Voice != nil:
		t.sendMessage(chatID, "🎤 I see you sent a voice message!\n\nI can't process audio yet — please type your question.")
		t.usage.Record(ctx, userID, chatID, "voice", "voice", 0, 0)
	case msg.Sticker != nil:
		t.sendMessage(chatID, "😊 Thanks for the sticker! I understand text best.\n\nTell me what you're interested in and I'll try to help!")
		t.usage.Record(ctx, userID, chatID, "sticker", "sticker", 0, 0)
	}
}

// handleText is the main conversational path: rate limit, route, deliver,
// record. A rejected request never reaches the router and is not stored.
func (t *Telegram) handleText(ctx context.Context, userID, chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if !t.limiter.Admit(userID) {
		t.sendMessage(chatID, rateLimitedText)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	reply := t.router.Respond(ctx, userID, text)
	t.sendMessage(chatID, reply)

	t.usage.Record(ctx, userID, chatID, "message", "message", len(text), len(reply))
}

func (t *Telegram) handleCommand(ctx context.Context, userID, chatID int64, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "👋 Hello! I'm an AI assistant.\n\nJust send me a message and I'll reply using your preferred AI provider.\n\nType /help for the full command list.")
		t.usage.Record(ctx, userID, chatID, "start", "command", 0, 0)

	case "help":
		t.sendMessage(chatID, "📖 Commands:\n"+
			"/providers — list available providers\n"+
			"/models <provider> — list a provider's models\n"+
			"/setkey <provider> <key> — store your API key\n"+
			"/delkey <provider> — remove your API key\n"+
			"/setprovider <provider> — set your preferred provider\n"+
			"/setmodel <model> — set your preferred model\n"+
			"/use <provider> — use a provider for this session only\n"+
			"/test [provider] — check that a provider works\n"+
			"/clear — clear conversation history\n"+
			"/stats — your usage statistics\n"+
			"/status — provider status")

	case "clear":
		t.history.Clear(ctx, userID)
		if err := t.usage.ClearInteractions(ctx, userID); err != nil {
			t.logger.Error("cannot clear interactions", "user_id", userID, "err", err)
		}
		t.router.ClearSession(userID)
		t.sendMessage(chatID, "🗑 Conversation history cleared.")

	case "providers":
		names := t.router.Providers()
		if len(names) == 0 {
			t.sendMessage(chatID, "No providers are configured.")
			return
		}
		var sb strings.Builder
		sb.WriteString("🤖 Available providers:\n")
		for _, name := range names {
			marker := ""
			if name == t.router.Default() {
				marker = " (default)"
			}
			fmt.Fprintf(&sb, "• %s%s\n", name, marker)
		}
		t.sendMessage(chatID, sb.String())

	case "models":
		if len(args) < 1 {
			t.sendMessage(chatID, "Usage: /models <provider>")
			return
		}
		models := t.router.ModelsFor(args[0])
		if len(models) == 0 {
			t.sendMessage(chatID, fmt.Sprintf("Unknown provider: %s", args[0]))
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "📚 Models for %s:\n", args[0])
		for _, m := range models {
			fmt.Fprintf(&sb, "• %s — %s (%s)\n", m.ID, m.Name, m.Description)
		}
		t.sendMessage(chatID, sb.String())

	case "setkey":
		if len(args) < 2 {
			t.sendMessage(chatID, "Usage: /setkey <provider> <key>\n\n⚠️ Delete your message afterwards so the key doesn't stay in the chat.")
			return
		}
		t.settings.SetAPIKey(userID, args[0], args[1])
		t.sendMessage(chatID, fmt.Sprintf("🔑 API key for %s saved.", args[0]))

	case "delkey":
		if len(args) < 1 {
			t.sendMessage(chatID, "Usage: /delkey <provider>")
			return
		}
		t.settings.RemoveAPIKey(userID, args[0])
		t.sendMessage(chatID, fmt.Sprintf("🗑 API key for %s removed.", args[0]))

	case "setprovider":
		if len(args) < 1 {
			t.sendMessage(chatID, "Usage: /setprovider <provider>")
			return
		}
		if !t.settings.HasAPIKey(userID, args[0]) {
			t.sendMessage(chatID, fmt.Sprintf("No API key stored for %s. Add one with /setkey first.", args[0]))
			return
		}
		t.settings.SetProvider(userID, args[0])
		t.sendMessage(chatID, fmt.Sprintf("✅ Preferred provider set to %s.", args[0]))

	case "setmodel":
		if len(args) < 1 {
			t.sendMessage(chatID, "Usage: /setmodel <model>")
			return
		}
		t.settings.SetModel(userID, args[0])
		t.sendMessage(chatID, fmt.Sprintf("✅ Preferred model set to %s.", args[0]))

	case "use":
		if len(args) < 1 {
			t.sendMessage(chatID, "Usage: /use <provider>")
			return
		}
		if !t.router.UseForSession(userID, args[0]) {
			t.sendMessage(chatID, fmt.Sprintf("Unknown provider: %s", args[0]))
			return
		}
		t.sendMessage(chatID, fmt.Sprintf("✅ Using %s for this session. This resets when the bot restarts.", args[0]))

	case "test":
		name := t.router.Default()
		if len(args) >= 1 {
			name = args[0]
		}
		if name == "" {
			t.sendMessage(chatID, "No provider to test.")
			return
		}
		t.sendMessage(chatID, fmt.Sprintf("Testing %s…", name))
		if t.router.Test(ctx, name, userID) {
			t.sendMessage(chatID, fmt.Sprintf("✅ %s is working.", name))
		} else {
			t.sendMessage(chatID, fmt.Sprintf("❌ %s is not responding correctly.", name))
		}

	case "stats":
		s, err := t.usage.UserStats(ctx, userID)
		if err != nil || s == nil {
			t.sendMessage(chatID, "📊 No usage recorded yet.")
			return
		}
		t.sendMessage(chatID, fmt.Sprintf(
			"📊 Your statistics:\n"+
				"• Total messages: %d\n"+
				"• Today: %d\n"+
				"• This week: %d\n"+
				"• Characters used: %d\n"+
				"• Average response length: %d\n"+
				"• First used: %s\n"+
				"• Last used: %s",
			s.TotalMessages, s.MessagesToday, s.MessagesThisWeek,
			s.TokensUsed, s.AvgResponseLength,
			s.FirstUsed.Format("2006-01-02 15:04:05"),
			s.LastUsed.Format("2006-01-02 15:04:05"),
		))

	case "status":
		status := t.router.Status()
		if len(status) == 0 {
			t.sendMessage(chatID, "No providers are configured.")
			return
		}
		var sb strings.Builder
		sb.WriteString("🟢 Provider status:\n")
		for _, name := range t.router.Providers() {
			mark := "❌"
			if status[name] {
				mark = "✅"
			}
			fmt.Fprintf(&sb, "• %s %s\n", name, mark)
		}
		t.sendMessage(chatID, sb.String())

	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage breaks text into chunks under Telegram's 4096-char cap,
// preferring newline boundaries when one exists past the halfway point.
func splitMessage(text string) []string {
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// sendChunk sends a single message chunk with retry and 429 backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
