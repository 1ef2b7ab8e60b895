// Package embedding wraps the external text-embedding service. One client
// instance is shared by ingestion and search; both sides depend only on the
// Embedder interface so tests can substitute deterministic vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Common errors for embedding operations.
var (
	ErrEmptyTexts      = errors.New("no texts provided for embedding")
	ErrMissingAPIKey   = errors.New("OPENAI_API_KEY environment variable not set")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder turns text into fixed-dimension float vectors.
type Embedder interface {
	// EmbedBatch generates one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne generates a vector for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimension.
	Dimension() int
}

// Config holds settings for the OpenAI embedding client.
type Config struct {
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OpenAIEmbedder implements Embedder using OpenAI's API. Each call is
// bounded by the configured timeout and retried once on failure.
type OpenAIEmbedder struct {
	client  openai.Client
	model   string
	dim     int
	timeout time.Duration
}

// NewOpenAIEmbedder creates an OpenAI embedder from the environment API key.
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrEmbeddingFailed)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   cfg.Model,
		dim:     cfg.Dimension,
		timeout: cfg.Timeout,
	}, nil
}

// Dimension returns the embedding vector dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// EmbedBatch generates embeddings for the provided texts, preserving input
// order. Transient failures are retried once before the error surfaces.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	vectors, err := e.embed(ctx, texts)
	if err != nil && ctx.Err() == nil {
		vectors, err = e.embed(ctx, texts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedOne generates an embedding for a single text. Empty text is passed
// through to the service as-is.
func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		v := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			v[j] = float32(val)
		}
		vectors[int(data.Index)] = v
	}
	return vectors, nil
}
