package provider

import "testing"

func TestFallbackNotice_MemberOfSet(t *testing.T) {
	for i := 0; i < 50; i++ {
		if !IsFallbackNotice(FallbackNotice()) {
			t.Fatal("FallbackNotice returned text outside the fixed set")
		}
	}
}

func TestIsFallbackNotice_RealAnswer(t *testing.T) {
	if IsFallbackNotice("The capital of France is Paris.") {
		t.Error("real answer misclassified as fallback")
	}
	if IsFallbackNotice("") {
		t.Error("empty string misclassified as fallback")
	}
}

func TestClassifyAPIError_StatusOnly(t *testing.T) {
	// Classification must work from the status code alone when the body is opaque.
	if got := classifyAPIError("OpenAI", 401, "nope"); got == "" || IsFallbackNotice(got) {
		t.Errorf("401 should map to the invalid-credential notice, got %q", got)
	}
	if got := classifyAPIError("Claude", 429, "nope"); got == "" || IsFallbackNotice(got) {
		t.Errorf("429 should map to the rate-limited notice, got %q", got)
	}
	if got := classifyAPIError("OpenAI", 500, "nope"); !IsFallbackNotice(got) {
		t.Errorf("unclassifiable error should fall back, got %q", got)
	}
}

func TestFactory_New(t *testing.T) {
	for _, kind := range []string{"openai", "claude"} {
		p, err := New(kind, "sk-whatever", "", nil)
		if err != nil {
			t.Fatalf("New(%s): %v", kind, err)
		}
		if p.Name() != kind {
			t.Errorf("New(%s).Name() = %s", kind, p.Name())
		}
	}

	if _, err := New("gemini", "key", "", nil); err == nil {
		t.Error("expected error for unknown provider kind")
	}
}
