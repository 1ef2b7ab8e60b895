package compose

import (
	"context"
	"fmt"

	"github.com/remedylabs/remedy/internal/search"
)

// MockComposer is a deterministic Composer implementation for testing.
type MockComposer struct {
	// Response is the fixed text returned by Compose. If empty, a
	// deterministic response is generated from the inputs.
	Response string

	// Error, if set, is returned by Compose instead of an answer.
	Error error

	// LastQuery and LastResults record the most recent Compose inputs.
	LastQuery   string
	LastResults []search.Result
}

// NewMockComposer creates a mock composer with the given fixed response.
func NewMockComposer(response string) *MockComposer {
	return &MockComposer{Response: response}
}

// NewMockComposerWithError creates a mock composer that always fails.
func NewMockComposerWithError(err error) *MockComposer {
	return &MockComposer{Error: err}
}

// Compose returns the configured response or a deterministic summary.
func (m *MockComposer) Compose(ctx context.Context, results []search.Result, query string) (Answer, error) {
	m.LastQuery = query
	m.LastResults = results

	if m.Error != nil {
		return Answer{}, m.Error
	}

	text := m.Response
	if text == "" {
		text = fmt.Sprintf("Answer for %q based on %d records.", query, len(results))
	}
	return Answer{Text: text, TokenUsage: len(text)}, nil
}
