// Package settings is the durable per-user preference store: API keys,
// provider/model choices and free-form counters, kept as one JSON document
// rewritten in full on every mutation. Write-through means a crash right
// after a call never loses that call's effect.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Store holds every user's settings keyed by user-id string.
type Store struct {
	mu     sync.Mutex
	path   string
	users  map[string]*userRecord
	logger *slog.Logger
}

type userRecord struct {
	APIKeys     map[string]string `json:"api_keys,omitempty"`
	Preferences map[string]any    `json:"preferences,omitempty"`
	Stats       map[string]any    `json:"stats,omitempty"`
}

const (
	prefProvider = "provider"
	prefModel    = "model"
)

func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create settings directory: %w", err)
	}

	s := &Store{path: path, users: map[string]*userRecord{}, logger: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read settings file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("cannot parse settings file %s: %w", path, err)
	}
	return s, nil
}

// save persists the whole document. Caller must hold the lock.
func (s *Store) save() {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		s.logger.Error("cannot marshal settings", "err", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Error("cannot write settings file", "path", s.path, "err", err)
	}
}

func (s *Store) record(userID int64) *userRecord {
	key := strconv.FormatInt(userID, 10)
	rec, ok := s.users[key]
	if !ok {
		rec = &userRecord{}
		s.users[key] = rec
	}
	return rec
}

// SetAPIKey stores the user's credential for a provider, replacing any
// previous one. A user has at most one credential per provider.
func (s *Store) SetAPIKey(userID int64, provider, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	if rec.APIKeys == nil {
		rec.APIKeys = map[string]string{}
	}
	rec.APIKeys[provider] = apiKey
	s.save()
	s.logger.Info("api key set", "user_id", userID, "provider", provider)
}

// RemoveAPIKey deletes the user's credential for a provider.
func (s *Store) RemoveAPIKey(userID int64, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatInt(userID, 10)
	rec, ok := s.users[key]
	if !ok || rec.APIKeys == nil {
		return
	}
	delete(rec.APIKeys, provider)
	s.save()
	s.logger.Info("api key removed", "user_id", userID, "provider", provider)
}

// APIKeys returns a copy of the user's provider→credential mapping.
func (s *Store) APIKeys(userID int64) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]string{}
	if rec, ok := s.users[strconv.FormatInt(userID, 10)]; ok {
		for p, k := range rec.APIKeys {
			out[p] = k
		}
	}
	return out
}

// APIKey returns the user's credential for one provider.
func (s *Store) APIKey(userID int64, provider string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[strconv.FormatInt(userID, 10)]
	if !ok {
		return "", false
	}
	key, ok := rec.APIKeys[provider]
	return key, ok && key != ""
}

// HasAPIKey reports whether the user stored a non-empty credential for the provider.
func (s *Store) HasAPIKey(userID int64, provider string) bool {
	_, ok := s.APIKey(userID, provider)
	return ok
}

// SetPreference stores one preference field; last write wins per field.
func (s *Store) SetPreference(userID int64, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	if rec.Preferences == nil {
		rec.Preferences = map[string]any{}
	}
	rec.Preferences[key] = value
	s.save()
	s.logger.Info("preference set", "user_id", userID, "key", key)
}

// Preferences returns a copy of the user's preference mapping.
func (s *Store) Preferences(userID int64) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]any{}
	if rec, ok := s.users[strconv.FormatInt(userID, 10)]; ok {
		for k, v := range rec.Preferences {
			out[k] = v
		}
	}
	return out
}

func (s *Store) stringPreference(userID int64, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[strconv.FormatInt(userID, 10)]
	if !ok {
		return ""
	}
	v, _ := rec.Preferences[key].(string)
	return v
}

// Provider returns the user's selected provider, or "" when none is stored.
func (s *Store) Provider(userID int64) string {
	return s.stringPreference(userID, prefProvider)
}

// Model returns the user's selected model, or "" when none is stored.
func (s *Store) Model(userID int64) string {
	return s.stringPreference(userID, prefModel)
}

func (s *Store) SetProvider(userID int64, provider string) {
	s.SetPreference(userID, prefProvider, provider)
}

func (s *Store) SetModel(userID int64, model string) {
	s.SetPreference(userID, prefModel, model)
}

// UpdateStats merges the given counters into the user's free-form stats.
func (s *Store) UpdateStats(userID int64, stats map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID)
	if rec.Stats == nil {
		rec.Stats = map[string]any{}
	}
	for k, v := range stats {
		rec.Stats[k] = v
	}
	s.save()
}

// Stats returns a copy of the user's free-form counters.
func (s *Store) Stats(userID int64) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]any{}
	if rec, ok := s.users[strconv.FormatInt(userID, 10)]; ok {
		for k, v := range rec.Stats {
			out[k] = v
		}
	}
	return out
}

// DeleteUser removes all stored data for the user (account deletion).
func (s *Store) DeleteUser(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatInt(userID, 10)
	if _, ok := s.users[key]; !ok {
		return
	}
	delete(s.users, key)
	s.save()
	s.logger.Info("all user data deleted", "user_id", userID)
}

// Users returns all known user ids, sorted.
func (s *Store) Users() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.users))
	for key := range s.users {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
