// Package compose turns a ranked record list and a user query into a
// synthesized natural-language answer. It defines a provider-agnostic
// Composer interface with an OpenAI implementation and a deterministic
// mock for testing.
package compose

import (
	"context"
	"errors"
	"time"

	"github.com/remedylabs/remedy/internal/search"
)

var (
	ErrComposeFailed = errors.New("answer composition failed")
	ErrInvalidConfig = errors.New("invalid composer configuration")
)

// Answer is a synthesized response plus the token count the provider
// reported for the call.
type Answer struct {
	Text       string
	TokenUsage int
}

// Composer generates an answer from retrieved records and a query.
// Implementations must be stateless and safe for concurrent use.
type Composer interface {
	Compose(ctx context.Context, results []search.Result, query string) (Answer, error)
}

// Config holds common configuration options for composer providers.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	APIKey      string
}

// DefaultConfig returns sensible defaults for answer composition.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o",
		Temperature: 0.7,
		MaxTokens:   2000,
		Timeout:     60 * time.Second,
	}
}
