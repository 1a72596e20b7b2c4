// Package ollama embeds menu phrases through a local Ollama server's
// /api/embed endpoint. A kiosk that must keep ordering during an internet
// outage runs nomic-embed-text or all-minilm on the lane PC itself.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/embeddings"
)

// DefaultBaseURL targets an Ollama instance on the lane PC.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider calls Ollama's /api/embed. The vector dimension is taken from
// [WithDimensions] when given, otherwise from a table of common embedding
// models, otherwise measured once against the live server.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	measure    sync.Once
}

// Option configures a [Provider].
type Option func(*settings)

type settings struct {
	timeout    time.Duration
	dimensions int
}

// WithTimeout sets a per-request HTTP timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithDimensions fixes the vector dimension up front, skipping both the model
// table and the live measurement.
func WithDimensions(dims int) Option {
	return func(s *settings) { s.dimensions = dims }
}

// New creates a provider for the given server and model. An empty baseURL
// means [DefaultBaseURL]; model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	httpClient := &http.Client{}
	if s.timeout > 0 {
		httpClient.Timeout = s.timeout
	}

	dims := s.dimensions
	if dims == 0 {
		dims = tableDimensions(model)
	}

	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		dimensions: dims,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request; Ollama keeps input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions returns the vector length. For a model missing from the table
// it embeds one throwaway phrase against the live server, once, and caches
// the measured length; 0 means the measurement failed and the semantic index
// cannot be built with this provider.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.measure.Do(func() {
		vecs, err := p.post(context.Background(), []string{"메뉴"})
		if err == nil && len(vecs) > 0 {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

func (p *Provider) ModelID() string {
	return p.model
}

// post sends one /api/embed request and returns the raw vectors.
func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

func tableDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
