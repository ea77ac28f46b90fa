package domain

import "context"

// Provider is the interface all AI backends must implement.
//
// Generate never returns an error for expected failures (quota, bad key,
// rate limit, overlong context, backend outage): those are classified inside
// the adapter and come back as user-facing notice text. A non-nil error means
// something the adapter could not even turn into a notice, and is absorbed by
// the router's catch-all.
type Provider interface {
	Name() string
	Generate(ctx context.Context, messages []Message) (string, error)
	Models() []ModelInfo
	Validate() bool
}

// Params are the fixed generation parameters an adapter sends with every call.
type Params struct {
	MaxTokens   int
	Temperature float64
}
