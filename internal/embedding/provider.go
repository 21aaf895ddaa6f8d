package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recallhq/recall/internal/config"
)

// ErrProviderUnavailable is surfaced after the retry budget is exhausted.
// The caller sees the failure; a zero vector is never substituted.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Provider turns text into fixed-length vectors. One call, one network
// round trip; batching and caching live a layer above.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAIProvider calls the OpenAI embeddings endpoint (or any
// API-compatible server via BaseURL).
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	dim     int
	timeout time.Duration
}

func NewOpenAIProvider(cfg config.EmbeddingConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dim:     cfg.Dimension,
		timeout: cfg.Timeout,
	}
}

func (p *OpenAIProvider) Dimension() int {
	return p.dim
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(p.model),
		Input:      texts,
		Dimensions: p.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// The API documents no ordering guarantee; place by index.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("provider returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != p.dim {
			return nil, fmt.Errorf("provider returned %d-dim vector, want %d", len(d.Embedding), p.dim)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("provider returned no embedding for input %d", i)
		}
	}
	return vectors, nil
}
