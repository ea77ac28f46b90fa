package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/beocch/telegram-ai-assistant/internal/domain"
	"github.com/beocch/telegram-ai-assistant/internal/provider"
)

// stubProvider is a scriptable domain.Provider.
type stubProvider struct {
	name    string
	reply   string
	err     error
	panics  bool
	valid   bool
	lastMsg []domain.Message
	calls   int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	s.calls++
	s.lastMsg = messages
	if s.panics {
		panic("transport crashed")
	}
	return s.reply, s.err
}
func (s *stubProvider) Models() []domain.ModelInfo {
	return []domain.ModelInfo{{ID: s.name + "-model", Name: s.name}}
}
func (s *stubProvider) Validate() bool { return s.valid }

// memHistory is an in-memory domain.ConversationStore.
type memHistory struct {
	turns map[int64][]domain.Message
}

func newMemHistory() *memHistory { return &memHistory{turns: map[int64][]domain.Message{}} }

func (m *memHistory) Append(ctx context.Context, userID int64, userMessage, assistantMessage string) {
	m.turns[userID] = append(m.turns[userID],
		domain.Message{Role: domain.RoleUser, Content: userMessage},
		domain.Message{Role: domain.RoleAssistant, Content: assistantMessage},
	)
}
func (m *memHistory) History(ctx context.Context, userID int64) []domain.Message {
	return m.turns[userID]
}
func (m *memHistory) Clear(ctx context.Context, userID int64) { delete(m.turns, userID) }

// memSettings is an in-memory domain.SettingsReader.
type memSettings struct {
	provider string
	model    string
	keys     map[string]string // provider -> key, single test user
}

func (m *memSettings) Provider(userID int64) string { return m.provider }
func (m *memSettings) Model(userID int64) string    { return m.model }
func (m *memSettings) APIKey(userID int64, provider string) (string, bool) {
	k, ok := m.keys[provider]
	return k, ok && k != ""
}

func newTestRouter(settings *memSettings) (*Router, *memHistory) {
	if settings == nil {
		settings = &memSettings{keys: map[string]string{}}
	}
	hist := newMemHistory()
	r := New(Config{
		Settings: settings,
		History:  hist,
	})
	return r, hist
}

func TestRouter_DefaultIsFirstRegistered(t *testing.T) {
	r, _ := newTestRouter(nil)

	r.Register("claude", &stubProvider{name: "claude", reply: "from claude", valid: true})
	r.Register("openai", &stubProvider{name: "openai", reply: "from openai", valid: true})

	if r.Default() != "claude" {
		t.Fatalf("default = %q, want first registered", r.Default())
	}

	reply := r.Respond(context.Background(), 1, "hi")
	if reply != "from claude" {
		t.Errorf("reply = %q, want default provider's", reply)
	}
}

func TestRouter_SetDefault(t *testing.T) {
	r, _ := newTestRouter(nil)

	r.Register("claude", &stubProvider{name: "claude", reply: "from claude", valid: true})
	r.Register("openai", &stubProvider{name: "openai", reply: "from openai", valid: true})

	if !r.SetDefault("openai") {
		t.Fatal("SetDefault(openai) should succeed")
	}
	if r.SetDefault("gemini") {
		t.Fatal("SetDefault of unregistered provider should fail")
	}

	if reply := r.Respond(context.Background(), 1, "hi"); reply != "from openai" {
		t.Errorf("reply = %q, want explicit default's", reply)
	}
}

func TestRouter_NoProviderResolvable(t *testing.T) {
	r, hist := newTestRouter(nil)

	reply := r.Respond(context.Background(), 1, "hi")
	if reply != unavailableText {
		t.Errorf("reply = %q, want unavailable text", reply)
	}
	// Terminal outcome: nothing appended, nothing retried.
	if len(hist.turns[1]) != 0 {
		t.Error("no-backend outcome must not append to history")
	}
}

func TestRouter_UserPreferenceBeatsDefault(t *testing.T) {
	settings := &memSettings{
		provider: "claude",
		keys:     map[string]string{"claude": "sk-ant-user-key"},
	}
	r, _ := newTestRouter(settings)

	userAdapter := &stubProvider{name: "claude", reply: "personal claude", valid: true}
	var factoryKind, factoryKey string
	r.makeAdapter = func(kind, apiKey, model string) (domain.Provider, error) {
		factoryKind, factoryKey = kind, apiKey
		return userAdapter, nil
	}

	r.Register("openai", &stubProvider{name: "openai", reply: "from default", valid: true})

	reply := r.Respond(context.Background(), 1, "hi")
	if reply != "personal claude" {
		t.Fatalf("reply = %q, want user-preferred provider's", reply)
	}
	if factoryKind != "claude" || factoryKey != "sk-ant-user-key" {
		t.Errorf("factory called with %s/%s, want claude with the user's key", factoryKind, factoryKey)
	}
}

func TestRouter_InvalidUserCredentialFallsClosed(t *testing.T) {
	settings := &memSettings{
		provider: "claude",
		keys:     map[string]string{"claude": "not-a-claude-key"},
	}
	r, _ := newTestRouter(settings)

	r.makeAdapter = func(kind, apiKey, model string) (domain.Provider, error) {
		// Adapter builds fine but the credential format is invalid.
		return &stubProvider{name: kind, reply: "never", valid: false}, nil
	}
	r.Register("openai", &stubProvider{name: "openai", reply: "from default", valid: true})

	if reply := r.Respond(context.Background(), 1, "hi"); reply != "from default" {
		t.Errorf("reply = %q, want fallback to default", reply)
	}
}

func TestRouter_PreferenceWithoutCredentialFallsClosed(t *testing.T) {
	settings := &memSettings{provider: "claude", keys: map[string]string{}}
	r, _ := newTestRouter(settings)

	r.makeAdapter = func(kind, apiKey, model string) (domain.Provider, error) {
		t.Fatal("factory must not run without a stored credential")
		return nil, nil
	}
	r.Register("openai", &stubProvider{name: "openai", reply: "from default", valid: true})

	if reply := r.Respond(context.Background(), 1, "hi"); reply != "from default" {
		t.Errorf("reply = %q, want fallback to default", reply)
	}
}

func TestRouter_SessionOverrideBeatsDefault(t *testing.T) {
	r, _ := newTestRouter(nil)

	r.Register("openai", &stubProvider{name: "openai", reply: "from default", valid: true})
	r.Register("claude", &stubProvider{name: "claude", reply: "from claude", valid: true})

	if !r.UseForSession(1, "claude") {
		t.Fatal("UseForSession should accept a registered provider")
	}
	if r.UseForSession(1, "gemini") {
		t.Fatal("UseForSession must reject unregistered providers")
	}

	if reply := r.Respond(context.Background(), 1, "hi"); reply != "from claude" {
		t.Errorf("reply = %q, want session override's", reply)
	}

	// Other users are unaffected.
	if reply := r.Respond(context.Background(), 2, "hi"); reply != "from default" {
		t.Errorf("user 2 reply = %q, want default", reply)
	}

	r.ClearSession(1)
	if reply := r.Respond(context.Background(), 1, "hi"); reply != "from default" {
		t.Errorf("after clear, reply = %q, want default", reply)
	}
}

func TestRouter_ContextBuild(t *testing.T) {
	r, hist := newTestRouter(nil)
	r.depth = 2

	p := &stubProvider{name: "openai", reply: "ok", valid: true}
	r.Register("openai", p)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		hist.Append(ctx, 1, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	r.Respond(ctx, 1, "current question")

	msgs := p.lastMsg
	// system + 2 pairs of history + new message
	if len(msgs) != 1+4+1 {
		t.Fatalf("context length = %d, want 6", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Content != "q4" {
		t.Errorf("history not trimmed to most recent turns: %q", msgs[1].Content)
	}
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleUser || last.Content != "current question" {
		t.Errorf("last message = %+v, want the new user message", last)
	}
}

func TestRouter_AppendsAfterCompletedCall(t *testing.T) {
	r, hist := newTestRouter(nil)
	r.Register("openai", &stubProvider{name: "openai", reply: "the answer", valid: true})

	ctx := context.Background()
	r.Respond(ctx, 1, "the question")

	turns := hist.turns[1]
	if len(turns) != 2 {
		t.Fatalf("expected 1 appended turn, got %d messages", len(turns))
	}
	if turns[0].Content != "the question" || turns[1].Content != "the answer" {
		t.Errorf("unexpected stored turn: %+v", turns)
	}
}

func TestRouter_AdapterErrorBecomesApology(t *testing.T) {
	r, hist := newTestRouter(nil)
	r.Register("openai", &stubProvider{name: "openai", err: errors.New("marshal exploded"), valid: true})

	reply := r.Respond(context.Background(), 1, "hi")
	if reply != apologyText {
		t.Fatalf("reply = %q, want apology", reply)
	}
	// Even the apology counts as a completed call.
	if len(hist.turns[1]) != 2 || hist.turns[1][1].Content != apologyText {
		t.Errorf("apology not appended to history: %+v", hist.turns[1])
	}
}

func TestRouter_PanicBecomesApology(t *testing.T) {
	r, _ := newTestRouter(nil)
	r.Register("openai", &stubProvider{name: "openai", panics: true, valid: true})

	reply := r.Respond(context.Background(), 1, "hi")
	if reply != apologyText {
		t.Fatalf("reply = %q, want apology after panic", reply)
	}
}

func TestRouter_NoticeCountsAsCompleted(t *testing.T) {
	r, hist := newTestRouter(nil)
	notice := "⏳ OpenAI rate limit exceeded. Try again in a few minutes."
	r.Register("openai", &stubProvider{name: "openai", reply: notice, valid: true})

	reply := r.Respond(context.Background(), 1, "hi")
	if reply != notice {
		t.Fatalf("reply = %q, want the classified notice", reply)
	}
	if len(hist.turns[1]) != 2 || hist.turns[1][1].Content != notice {
		t.Errorf("notice must be appended as the assistant message: %+v", hist.turns[1])
	}
}

func TestRouter_Test(t *testing.T) {
	r, _ := newTestRouter(nil)
	ctx := context.Background()

	good := &stubProvider{name: "openai", reply: "Hi! How can I help?", valid: true}
	r.Register("openai", good)
	if !r.Test(ctx, "openai", 1) {
		t.Error("working provider should pass the test")
	}
	if good.calls != 1 {
		t.Errorf("test must issue exactly one generation call, got %d", good.calls)
	}

	degraded := &stubProvider{name: "claude", reply: provider.FallbackNotice(), valid: true}
	r.Register("claude", degraded)
	if r.Test(ctx, "claude", 1) {
		t.Error("provider answering with a fallback notice must fail the test")
	}

	if r.Test(ctx, "gemini", 1) {
		t.Error("unknown provider must fail the test")
	}
}

func TestRouter_Status(t *testing.T) {
	r, _ := newTestRouter(nil)
	r.Register("openai", &stubProvider{name: "openai", valid: true})
	r.Register("claude", &stubProvider{name: "claude", valid: false})

	status := r.Status()
	if !status["openai"] || status["claude"] {
		t.Errorf("status = %v", status)
	}
}

func TestRouter_ProvidersSorted(t *testing.T) {
	r, _ := newTestRouter(nil)
	r.Register("openai", &stubProvider{name: "openai", valid: true})
	r.Register("claude", &stubProvider{name: "claude", valid: true})

	names := r.Providers()
	if strings.Join(names, ",") != "claude,openai" {
		t.Errorf("providers = %v, want sorted", names)
	}
}
