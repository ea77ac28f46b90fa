// Package stats persists usage telemetry: one event row per interaction and
// one aggregate row per user. Recording is fire-and-forget; a database
// problem is logged and swallowed, never surfaced to the response path.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Recorder implements domain.UsageRecorder on SQLite.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRecorder(dbPath string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Recorder{db: db, logger: logger}

	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return r, nil
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_interactions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         INTEGER NOT NULL,
		chat_id         INTEGER NOT NULL,
		action          TEXT NOT NULL,
		message_type    TEXT,
		message_length  INTEGER DEFAULT 0,
		response_length INTEGER DEFAULT 0,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_user ON user_interactions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS user_stats (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id             INTEGER NOT NULL UNIQUE,
		total_messages      INTEGER DEFAULT 0,
		messages_today      INTEGER DEFAULT 0,
		messages_this_week  INTEGER DEFAULT 0,
		tokens_used         INTEGER DEFAULT 0,
		avg_response_length INTEGER DEFAULT 0,
		first_used          DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_used           DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_stats_user ON user_stats(user_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Record logs one interaction and refreshes the user's aggregates.
// Best-effort: every failure is logged and swallowed so the caller's
// response path is never blocked or failed by telemetry.
func (r *Recorder) Record(ctx context.Context, userID, chatID int64, action, messageType string, messageLen, responseLen int) {
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_interactions (user_id, chat_id, action, message_type, message_length, response_length, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, chatID, action, messageType, messageLen, responseLen, now,
	)
	if err != nil {
		r.logger.Error("cannot log user interaction", "user_id", userID, "action", action, "err", err)
		return
	}

	if err := r.updateAggregates(ctx, userID, messageLen, responseLen, now); err != nil {
		r.logger.Error("cannot update user stats", "user_id", userID, "err", err)
	}
}

// updateAggregates bumps the running totals and recomputes the day/week
// counters by re-querying interaction rows. Counting from rows instead of
// incrementing means the buckets self-correct across UTC day and week
// rollover.
func (r *Recorder) updateAggregates(ctx context.Context, userID int64, messageLen, responseLen int, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, total_messages, tokens_used, first_used, last_used, updated_at)
		 VALUES (?, 1, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			total_messages = total_messages + 1,
			tokens_used    = tokens_used + excluded.tokens_used,
			last_used      = excluded.last_used,
			updated_at     = excluded.updated_at`,
		userID, messageLen+responseLen, now, now, now,
	)
	if err != nil {
		return err
	}

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	// ISO week: Monday start.
	weekStart := todayStart.AddDate(0, 0, -((int(todayStart.Weekday()) + 6) % 7))

	var todayCount, weekCount int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_interactions WHERE user_id = ? AND created_at >= ?`,
		userID, todayStart,
	).Scan(&todayCount); err != nil {
		return err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_interactions WHERE user_id = ? AND created_at >= ?`,
		userID, weekStart,
	).Scan(&weekCount); err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE user_stats SET
			messages_today      = ?,
			messages_this_week  = ?,
			avg_response_length = tokens_used / MAX(total_messages, 1)
		 WHERE user_id = ?`,
		todayCount, weekCount, userID,
	)
	return err
}

// UserStats is the aggregate row for one user.
type UserStats struct {
	UserID            int64
	TotalMessages     int
	MessagesToday     int
	MessagesThisWeek  int
	TokensUsed        int
	AvgResponseLength int
	FirstUsed         time.Time
	LastUsed          time.Time
}

// UserStats returns the aggregate row, or nil when the user has none.
func (r *Recorder) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	var s UserStats
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, total_messages, messages_today, messages_this_week, tokens_used, avg_response_length, first_used, last_used
		 FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&s.UserID, &s.TotalMessages, &s.MessagesToday, &s.MessagesThisWeek,
		&s.TokensUsed, &s.AvgResponseLength, &s.FirstUsed, &s.LastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SystemStats summarizes usage across all users.
type SystemStats struct {
	TotalUsers        int
	TotalInteractions int
	TodayInteractions int
}

func (r *Recorder) SystemStats(ctx context.Context) (*SystemStats, error) {
	var s SystemStats
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_stats`).Scan(&s.TotalUsers); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_interactions`).Scan(&s.TotalInteractions); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_interactions WHERE created_at >= ?`, todayStart,
	).Scan(&s.TodayInteractions); err != nil {
		return nil, err
	}
	return &s, nil
}

// ClearInteractions deletes the user's event rows; the aggregate row stays.
func (r *Recorder) ClearInteractions(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_interactions WHERE user_id = ?`, userID,
	)
	return err
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
