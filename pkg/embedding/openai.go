package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// OpenAIConfig holds settings for the OpenAI embeddings provider. BaseURL
// may point at any OpenAI-compatible endpoint (vLLM, Ollama, etc.).
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
	// Dimension of the returned vectors. Required because the cache and the
	// vector index pin the dimension at startup.
	Dimension int `yaml:"dimension"`
}

// OpenAIProvider calls the OpenAI embeddings API.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIProvider builds a provider from config, applying defaults.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got: %d", cfg.Dimension)
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logging.Debugf("OpenAIProvider: model=%s dimension=%d base_url=%s", model, cfg.Dimension, cfg.BaseURL)

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed returns the embedding for text, typed *Error on provider failure.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: openai.Int(int64(p.dimension)),
	})
	if err != nil {
		return nil, &Error{Provider: "openai", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Provider: "openai", Err: fmt.Errorf("empty embedding response")}
	}

	raw := resp.Data[0].Embedding
	if len(raw) != p.dimension {
		return nil, &Error{
			Provider: "openai",
			Err:      fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(raw), p.dimension),
		}
	}

	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Dimension returns the configured vector dimensionality.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}
