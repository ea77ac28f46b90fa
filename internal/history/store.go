// Package history keeps the per-user conversation window in Redis.
//
// The window is an append-only list of user/assistant pairs, trimmed to a
// configured depth and expiring 24h after the last append. Redis being down
// is not an error condition here: every operation degrades to "no history"
// with a logged warning so a cache outage never breaks a conversation turn.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beocch/telegram-ai-assistant/internal/domain"
)

const (
	defaultDepth = 10
	defaultTTL   = 24 * time.Hour
)

// Store implements domain.ConversationStore on a Redis list per user.
type Store struct {
	client *redis.Client
	depth  int // user+assistant pairs kept
	ttl    time.Duration
	logger *slog.Logger
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Depth    int
	TTL      time.Duration
	Logger   *slog.Logger
}

func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return NewWithClient(client, cfg)
}

// NewWithClient wires an existing client; tests use this with miniredis.
func NewWithClient(client *redis.Client, cfg Config) *Store {
	if cfg.Depth <= 0 {
		cfg.Depth = defaultDepth
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		client: client,
		depth:  cfg.Depth,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}
}

// entry is the serialized record stored per conversation turn.
type entry struct {
	Timestamp        string `json:"timestamp"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
}

func conversationKey(userID int64) string {
	return fmt.Sprintf("conversation:%d", userID)
}

// Append stores one completed turn, trims the list to the most recent depth
// entries (each entry holds a user+assistant pair, so 2×depth messages) and
// resets the expiry. The push+trim+expire sequence runs as one pipeline; it
// is not atomic across a process crash, which at worst leaves a slightly
// stale TTL or one extra entry.
func (s *Store) Append(ctx context.Context, userID int64, userMessage, assistantMessage string) {
	e := entry{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("cannot marshal conversation entry", "user_id", userID, "err", err)
		return
	}

	key := conversationKey(userID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(s.depth-1))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("conversation cache unreachable, skipping append", "user_id", userID, "err", err)
	}
}

// History returns the stored turns oldest-first, each expanded into a user
// message followed by its assistant message. A cache outage or an empty
// history both yield an empty slice.
func (s *Store) History(ctx context.Context, userID int64) []domain.Message {
	raw, err := s.client.LRange(ctx, conversationKey(userID), 0, -1).Result()
	if err != nil {
		s.logger.Warn("conversation cache unreachable, returning empty history", "user_id", userID, "err", err)
		return nil
	}

	// Stored newest-first; walk backwards for chronological order.
	messages := make([]domain.Message, 0, len(raw)*2)
	for i := len(raw) - 1; i >= 0; i-- {
		var e entry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			s.logger.Warn("skipping unparseable conversation entry", "user_id", userID, "err", err)
			continue
		}
		messages = append(messages,
			domain.Message{Role: domain.RoleUser, Content: e.UserMessage},
			domain.Message{Role: domain.RoleAssistant, Content: e.AssistantMessage},
		)
	}
	return messages
}

// Clear deletes the user's stored history. A no-op when the cache is
// unreachable or the history is already empty.
func (s *Store) Clear(ctx context.Context, userID int64) {
	if err := s.client.Del(ctx, conversationKey(userID)).Err(); err != nil {
		s.logger.Warn("conversation cache unreachable, skipping clear", "user_id", userID, "err", err)
		return
	}
	s.logger.Info("cleared conversation history", "user_id", userID)
}

// Ping reports whether the backing cache is reachable. Used for startup
// logging and the status command only; operations degrade on their own.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
