// Package router resolves which AI backend answers a user's turn, builds the
// bounded conversation context and shields the caller from every failure
// mode below it.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/beocch/telegram-ai-assistant/internal/domain"
	"github.com/beocch/telegram-ai-assistant/internal/provider"
)

const (
	// unavailableText is the terminal reply when no backend is resolvable.
	unavailableText = "Sorry, the AI service is currently unavailable."
	// apologyText is the catch-all reply for failures the adapter layer
	// did not convert to a notice.
	apologyText = "Something went wrong while processing your request. Please try again later."

	defaultSystemPrompt = "You are a helpful AI assistant in a Telegram bot. " +
		"Answer concisely but informatively. " +
		"Use emoji where it helps readability. " +
		"Be friendly and ready to help. " +
		"If you don't know the answer, say so honestly."

	defaultHistoryDepth = 10
)

// AdapterFactory builds a fresh, call-scoped adapter from a provider kind,
// a user credential and an optional model override.
type AdapterFactory func(kind, apiKey, model string) (domain.Provider, error)

// Router owns the process-wide provider registry, the per-session overrides
// and the request path from inbound text to reply.
type Router struct {
	mu          sync.Mutex
	providers   map[string]domain.Provider
	defaultName string
	sessions    map[int64]string // transient per-user provider overrides

	settings    domain.SettingsReader
	history     domain.ConversationStore
	makeAdapter AdapterFactory

	systemPrompt string
	depth        int
	logger       *slog.Logger
}

type Config struct {
	Settings     domain.SettingsReader
	History      domain.ConversationStore
	MakeAdapter  AdapterFactory // defaults to provider.New
	SystemPrompt string
	HistoryDepth int
	Logger       *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	if cfg.MakeAdapter == nil {
		logger := cfg.Logger
		cfg.MakeAdapter = func(kind, apiKey, model string) (domain.Provider, error) {
			return provider.New(kind, apiKey, model, logger)
		}
	}
	return &Router{
		providers:    map[string]domain.Provider{},
		sessions:     map[int64]string{},
		settings:     cfg.Settings,
		history:      cfg.History,
		makeAdapter:  cfg.MakeAdapter,
		systemPrompt: cfg.SystemPrompt,
		depth:        cfg.HistoryDepth,
		logger:       cfg.Logger,
	}
}

// Register adds a process-wide adapter. The first registered provider becomes
// the default unless one was designated explicitly; callers register in
// deterministic (sorted) order so the implicit default is reproducible.
func (r *Router) Register(name string, p domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.logger.Info("provider registered", "provider", name)
}

// SetDefault designates the process-wide default provider.
func (r *Router) SetDefault(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		r.logger.Error("cannot set default: provider not registered", "provider", name)
		return false
	}
	r.defaultName = name
	r.logger.Info("default provider set", "provider", name)
	return true
}

// Default returns the name of the process-wide default provider.
func (r *Router) Default() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultName
}

// UseForSession sets a transient provider override for the user. It lives in
// process memory only and is lost on restart.
func (r *Router) UseForSession(userID int64, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return false
	}
	r.sessions[userID] = name
	r.logger.Info("session provider override set", "user_id", userID, "provider", name)
	return true
}

// ClearSession removes the user's session override.
func (r *Router) ClearSession(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelsFor returns the static model catalog of a registered provider.
func (r *Router) ModelsFor(name string) []domain.ModelInfo {
	r.mu.Lock()
	p, ok := r.providers[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Models()
}

// Status reports credential-format validity per registered provider.
// Derived on demand, not stored.
func (r *Router) Status() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := make(map[string]bool, len(r.providers))
	for name, p := range r.providers {
		status[name] = p.Validate()
	}
	return status
}

// resolve picks the adapter for this call, first match wins:
//
//  1. stored preference with the user's own credential (fresh adapter,
//     scoped to this call)
//  2. in-memory session override (registered process-wide adapter)
//  3. process-wide default
//
// A stored preference whose credential is missing or malformed fails closed
// to the next level; another user's credential is never substituted.
func (r *Router) resolve(userID int64) domain.Provider {
	if name := r.settings.Provider(userID); name != "" {
		if apiKey, ok := r.settings.APIKey(userID, name); ok {
			p, err := r.makeAdapter(name, apiKey, r.settings.Model(userID))
			if err == nil && p.Validate() {
				r.logger.Info("using user's preferred provider", "user_id", userID, "provider", name)
				return p
			}
			r.logger.Warn("stored credential unusable, falling back", "user_id", userID, "provider", name, "err", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.sessions[userID]; ok {
		if p, ok := r.providers[name]; ok {
			r.logger.Info("using session provider override", "user_id", userID, "provider", name)
			return p
		}
	}

	if p, ok := r.providers[r.defaultName]; ok {
		return p
	}
	return nil
}

// buildContext assembles the bounded generation context: the synthesized
// system preamble, the stored history trimmed to the configured depth and
// the new message. The system message is never stored.
func (r *Router) buildContext(ctx context.Context, userID int64, text string) []domain.Message {
	history := r.history.History(ctx, userID)
	if limit := r.depth * 2; len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: r.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: text})
	return messages
}

// Respond routes one conversational turn and always returns reply text.
// Whatever the adapter produced — a real completion or a classified failure
// notice — counts as a completed call and is appended to the conversation
// store. This is the last line of defense: nothing propagates past here.
func (r *Router) Respond(ctx context.Context, userID int64, text string) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while routing message", "user_id", userID, "panic", rec)
			reply = apologyText
		}
	}()

	p := r.resolve(userID)
	if p == nil {
		r.logger.Error("no provider resolvable", "user_id", userID)
		return unavailableText
	}

	messages := r.buildContext(ctx, userID, text)

	reply, err := p.Generate(ctx, messages)
	if err != nil {
		r.logger.Error("adapter failure escaped classification", "user_id", userID, "provider", p.Name(), "err", err)
		reply = apologyText
	}

	r.history.Append(ctx, userID, text, reply)
	return reply
}

// Test issues one real generation call with a trivial prompt and reports
// whether the provider works. Credentials resolve the same way as Respond:
// the user's own key when stored, otherwise the registered adapter. Success
// means the reply is non-empty and outside the known fallback-notice set —
// a deliberate heuristic, not a safety check.
func (r *Router) Test(ctx context.Context, name string, userID int64) bool {
	var p domain.Provider
	if apiKey, ok := r.settings.APIKey(userID, name); ok {
		fresh, err := r.makeAdapter(name, apiKey, r.settings.Model(userID))
		if err == nil {
			p = fresh
		}
	}
	if p == nil {
		r.mu.Lock()
		p = r.providers[name]
		r.mu.Unlock()
	}
	if p == nil {
		return false
	}

	reply, err := p.Generate(ctx, []domain.Message{{Role: domain.RoleUser, Content: "Hello"}})
	if err != nil {
		r.logger.Error("provider test failed", "provider", name, "err", err)
		return false
	}
	return reply != "" && !provider.IsFallbackNotice(reply)
}
