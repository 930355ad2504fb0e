package embedding

import (
	"context"
	"fmt"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/api/option"
)

const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGeminiModel = "gemini-embedding-001"
)

// Embedder converts text to vectors. Every vector returned by one Embedder has the same dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder creates the client for the configured provider. It is created once and shared by the index builder and the retriever.
func NewEmbedder(ctx context.Context, cfg config.Embeddings) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIEmbedder(cfg)
	case "gemini":
		embedder, err := newGeminiEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// ModelName returns the embedding model used for `cfg`.
func ModelName(cfg config.Embeddings) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	if cfg.Provider == "gemini" {
		return DefaultGeminiModel
	}
	return DefaultOpenAIModel
}

func newOpenAIEmbedder(cfg config.Embeddings) (Embedder, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// `langchaingo` emits an error when the OpenAI API key is empty, even if the API URL has been changed to one that doesn't require authentication.
		apiKey = "-"
	}
	opts := []openai.Option{openai.WithEmbeddingModel(ModelName(cfg)), openai.WithToken(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error setting up LLM for embedding: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	return embedder, nil
}

// GeminiEmbedder embeds text with Google's Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func newGeminiEmbedder(ctx context.Context, cfg config.Embeddings) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: client.EmbeddingModel(ModelName(cfg))}, nil
}

// EmbedDocuments embeds all texts in a single batch request.
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := g.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := g.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %v embeddings for %v texts", len(res.Embeddings), len(texts))
	}

	vectors := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	return res.Embedding.Values, nil
}

func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
