package compose

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/remedylabs/remedy/internal/search"
)

// OpenAIComposer implements Composer using OpenAI chat completions.
type OpenAIComposer struct {
	client openai.Client
	config Config
}

// NewOpenAIComposer creates an OpenAI-backed composer.
// Returns an error if the API key is missing.
func NewOpenAIComposer(config Config) (*OpenAIComposer, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set OPENAI_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &OpenAIComposer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		config: config,
	}, nil
}

// Compose sends the assembled prompt to OpenAI and returns the answer text
// with the reported token usage. The call is bounded by the configured
// timeout and retried once on failure so a flaky network surfaces as an
// error instead of a hang.
func (c *OpenAIComposer) Compose(ctx context.Context, results []search.Result, query string) (Answer, error) {
	prompt := AssemblePrompt(results, query)

	answer, err := c.complete(ctx, prompt)
	if err != nil && ctx.Err() == nil {
		answer, err = c.complete(ctx, prompt)
	}
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrComposeFailed, err)
	}
	return answer, nil
}

func (c *OpenAIComposer) complete(ctx context.Context, prompt string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if c.config.Temperature > 0 {
		params.Temperature = openai.Float(float64(c.config.Temperature))
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.config.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Answer{}, err
	}
	if len(completion.Choices) == 0 {
		return Answer{}, fmt.Errorf("no response generated")
	}

	return Answer{
		Text:       completion.Choices[0].Message.Content,
		TokenUsage: int(completion.Usage.TotalTokens),
	}, nil
}
