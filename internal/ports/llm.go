package ports

import "context"

// Prompt is the context handed to an LLM provider.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// LLMClient is the boundary to one LLM provider. The returned text is opaque
// to the core and only interpreted by the normalizer.
type LLMClient interface {
	Query(ctx context.Context, prompt Prompt) (string, error)
	Model() string
}
