package provider

import (
	"fmt"
	"math/rand"
	"strings"
)

// fallbackNotices are generic "service unavailable" replies used when a
// backend failure cannot be classified. The pick is uniform random for
// cosmetic variety only; nothing security-relevant depends on it.
var fallbackNotices = []string{
	"Sorry, I'm having temporary technical difficulties. Please try again in a few minutes.",
	"Unfortunately I can't process your request right now. Please try again later.",
	"An error occurred while processing your message. Please try once more.",
	"The service is temporarily unavailable. Please try again in a little while.",
	"🤖 Hi! I'm an AI assistant. I'm having trouble reaching the service right now — please try again later!",
	"💬 Hello! I can't process your request at the moment due to technical issues. Please try again in a few minutes.",
}

// FallbackNotice returns one of the generic unavailable notices at random.
func FallbackNotice() string {
	return fallbackNotices[rand.Intn(len(fallbackNotices))]
}

// IsFallbackNotice reports whether text is a member of the fallback set.
// The router's Test uses exact non-membership as its success signal. This is
// a crude heuristic: a genuine completion that happens to match a notice
// verbatim would be misclassified.
func IsFallbackNotice(text string) bool {
	for _, n := range fallbackNotices {
		if text == n {
			return true
		}
	}
	return false
}

// classifyAPIError maps a backend failure to a user-facing notice.
// providerName is the display name ("OpenAI", "Claude"); errText is the raw
// error body or message from the backend.
func classifyAPIError(providerName string, statusCode int, errText string) string {
	lower := strings.ToLower(errText)

	switch {
	case strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota"):
		return fmt.Sprintf("⚠️ %s quota exhausted. Top up your balance to keep using it.", providerName)
	case statusCode == 401 || statusCode == 403 ||
		strings.Contains(lower, "invalid_api_key") || strings.Contains(lower, "authentication"):
		return fmt.Sprintf("❌ Invalid %s API key. Check your settings with /setkey.", providerName)
	case statusCode == 429 || strings.Contains(lower, "rate_limit"):
		return fmt.Sprintf("⏳ %s rate limit exceeded. Try again in a few minutes.", providerName)
	case strings.Contains(lower, "context_length") || strings.Contains(lower, "too long") ||
		strings.Contains(lower, "prompt is too long"):
		return "📝 The message is too long. Try shortening the text."
	default:
		return FallbackNotice()
	}
}
