package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_settings.json")
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, path
}

func TestStore_APIKeyRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetAPIKey(1, "openai", "k1")
	if key, ok := s.APIKey(1, "openai"); !ok || key != "k1" {
		t.Fatalf("expected k1, got %q (ok=%v)", key, ok)
	}

	s.RemoveAPIKey(1, "openai")
	if _, ok := s.APIKey(1, "openai"); ok {
		t.Fatal("key should be gone after remove")
	}
	if _, present := s.APIKeys(1)["openai"]; present {
		t.Fatal("APIKeys mapping should not contain removed provider")
	}
}

func TestStore_OneCredentialPerProvider(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetAPIKey(1, "openai", "old")
	s.SetAPIKey(1, "openai", "new")

	keys := s.APIKeys(1)
	if len(keys) != 1 || keys["openai"] != "new" {
		t.Fatalf("expected single overwritten credential, got %v", keys)
	}
}

func TestStore_KeysScopedToUser(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetAPIKey(1, "openai", "user-one-key")
	if _, ok := s.APIKey(2, "openai"); ok {
		t.Fatal("user 2 must never see user 1's credential")
	}
}

func TestStore_ProviderModelPreferences(t *testing.T) {
	s, _ := newTestStore(t)

	if s.Provider(1) != "" || s.Model(1) != "" {
		t.Fatal("expected empty preferences for new user")
	}

	s.SetProvider(1, "claude")
	s.SetModel(1, "claude-3-haiku-20240307")

	if s.Provider(1) != "claude" {
		t.Errorf("provider = %q", s.Provider(1))
	}
	if s.Model(1) != "claude-3-haiku-20240307" {
		t.Errorf("model = %q", s.Model(1))
	}
}

func TestStore_WriteThroughSurvivesReload(t *testing.T) {
	s, path := newTestStore(t)

	s.SetAPIKey(42, "claude", "sk-ant-xyz")
	s.SetProvider(42, "claude")
	s.UpdateStats(42, map[string]any{"greetings": 3})

	// No explicit save/close: every mutation must already be on disk.
	reloaded, err := New(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if key, ok := reloaded.APIKey(42, "claude"); !ok || key != "sk-ant-xyz" {
		t.Errorf("api key lost on reload: %q", key)
	}
	if reloaded.Provider(42) != "claude" {
		t.Errorf("provider lost on reload: %q", reloaded.Provider(42))
	}
	if len(reloaded.Stats(42)) != 1 {
		t.Errorf("stats lost on reload: %v", reloaded.Stats(42))
	}
}

func TestStore_DeleteUser(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetAPIKey(1, "openai", "k1")
	s.SetProvider(1, "openai")
	s.DeleteUser(1)

	if _, ok := s.APIKey(1, "openai"); ok {
		t.Fatal("credentials must be gone after account deletion")
	}
	if s.Provider(1) != "" {
		t.Fatal("preferences must be gone after account deletion")
	}
	if len(s.Users()) != 0 {
		t.Fatal("user should not be listed after deletion")
	}
}

func TestStore_Users(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetAPIKey(30, "openai", "k")
	s.SetAPIKey(10, "openai", "k")
	s.SetAPIKey(20, "openai", "k")

	ids := s.Users()
	if len(ids) != 3 || ids[0] != 10 || ids[1] != 20 || ids[2] != 30 {
		t.Fatalf("expected sorted ids [10 20 30], got %v", ids)
	}
}

func TestNew_CorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, nil); err == nil {
		t.Fatal("expected error for corrupt settings file")
	}
}
