package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/beocch/telegram-ai-assistant/internal/domain"
)

func newTestStore(t *testing.T, depth int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewWithClient(client, Config{Depth: depth})
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestStore_AppendAndHistory(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	store.Append(ctx, 1, "hello", "hi there")
	store.Append(ctx, 1, "how are you", "fine")

	msgs := store.History(ctx, 1)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	// Oldest-first, user immediately followed by assistant.
	want := []domain.Message{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hi there"},
		{Role: domain.RoleUser, Content: "how are you"},
		{Role: domain.RoleAssistant, Content: "fine"},
	}
	for i, m := range want {
		if msgs[i] != m {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], m)
		}
	}
}

func TestStore_HistoryIsolatedPerUser(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	store.Append(ctx, 1, "from user one", "reply one")
	store.Append(ctx, 2, "from user two", "reply two")

	msgs := store.History(ctx, 1)
	if len(msgs) != 2 || msgs[0].Content != "from user one" {
		t.Errorf("user 1 history polluted: %+v", msgs)
	}
}

func TestStore_TrimsToDepth(t *testing.T) {
	const depth = 3
	store, _ := newTestStore(t, depth)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		store.Append(ctx, 7, fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}

	msgs := store.History(ctx, 7)
	if len(msgs) != depth*2 {
		t.Fatalf("expected %d messages after trim, got %d", depth*2, len(msgs))
	}
	// The D most recent turns survive, oldest evicted first.
	if msgs[0].Content != "question 8" {
		t.Errorf("expected oldest surviving turn to be question 8, got %q", msgs[0].Content)
	}
	if msgs[len(msgs)-1].Content != "answer 10" {
		t.Errorf("expected newest message to be answer 10, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestStore_ExpiryResetOnAppend(t *testing.T) {
	store, mr := newTestStore(t, 10)
	ctx := context.Background()

	store.Append(ctx, 1, "hello", "hi")
	if ttl := mr.TTL(conversationKey(1)); ttl != defaultTTL {
		t.Errorf("expected TTL %v after append, got %v", defaultTTL, ttl)
	}

	mr.FastForward(12 * time.Hour)
	store.Append(ctx, 1, "still here", "yes")
	if ttl := mr.TTL(conversationKey(1)); ttl != defaultTTL {
		t.Errorf("expected TTL reset to %v, got %v", defaultTTL, ttl)
	}
}

func TestStore_ClearIdempotent(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	store.Append(ctx, 1, "hello", "hi")
	store.Clear(ctx, 1)
	if msgs := store.History(ctx, 1); len(msgs) != 0 {
		t.Errorf("expected empty history after clear, got %d messages", len(msgs))
	}

	// Clearing again must be a no-op.
	store.Clear(ctx, 1)
	if msgs := store.History(ctx, 1); len(msgs) != 0 {
		t.Errorf("expected empty history after second clear, got %d messages", len(msgs))
	}
}

func TestStore_DegradesWhenCacheUnreachable(t *testing.T) {
	store, mr := newTestStore(t, 10)
	ctx := context.Background()

	store.Append(ctx, 1, "hello", "hi")
	mr.Close()

	// None of these may panic or error; read degrades to empty.
	store.Append(ctx, 1, "anyone there", "...")
	store.Clear(ctx, 1)
	if msgs := store.History(ctx, 1); len(msgs) != 0 {
		t.Errorf("expected empty history with cache down, got %d messages", len(msgs))
	}
}

func TestStore_SkipsCorruptEntries(t *testing.T) {
	store, mr := newTestStore(t, 10)
	ctx := context.Background()

	store.Append(ctx, 1, "good", "entry")
	mr.Lpush(conversationKey(1), "not json at all")

	msgs := store.History(ctx, 1)
	if len(msgs) != 2 {
		t.Fatalf("expected corrupt entry skipped, got %d messages", len(msgs))
	}
	if msgs[0].Content != "good" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
}
