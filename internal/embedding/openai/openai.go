// Package openai implements the embedding capability on top of the
// OpenAI embeddings API. It also works with any OpenAI-compatible
// provider via WithBaseURL.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"semrag/internal/embedding"
)

// Embedding models.
const (
	// ModelSmall is text-embedding-3-small (1536 dims, customizable).
	ModelSmall = "text-embedding-3-small"

	// ModelLarge is text-embedding-3-large (3072 dims, customizable).
	ModelLarge = "text-embedding-3-large"
)

const (
	// maxBatch is the OpenAI per-request input limit.
	maxBatch = 2048

	defaultModel = ModelLarge
	defaultDim   = 3072
)

// Client is an Embedder backed by the OpenAI embeddings endpoint.
type Client struct {
	client *openai.Client
	model  string
	dim    int
}

var _ embedding.Embedder = (*Client)(nil)

type config struct {
	model      string
	dim        int
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*config)

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDimension sets the requested output dimensionality.
func WithDimension(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// New creates an OpenAI embeddings client. The API key is required.
func New(apiKey string, opts ...Option) *Client {
	cfg := config{
		model:      defaultModel,
		dim:        defaultDim,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &Client{client: &client, model: cfg.model, dim: cfg.dim}
}

// EmbedBatch returns one vector per input text, in input order. Batches
// larger than the API limit are split into multiple requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += maxBatch {
		end := min(i+maxBatch, len(texts))
		vecs, err := c.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (c *Client) Dimension() int { return c.dim }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

func (c *Client) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          c.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(c.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, len(texts))
		}
		vecs[idx] = float64sToFloat32s(item.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d: %w", i, embedding.ErrCountMismatch)
		}
	}
	return vecs, nil
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
