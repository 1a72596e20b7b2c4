// Package speakerserver implements the speaker provider interfaces against a
// remote speaker-model HTTP server hosting a separation model (e.g. SepFormer)
// and an embedding model (e.g. ECAPA-TDNN).
//
// Endpoints:
//
//	POST /v1/separate  raw PCM in, JSON {streams: [base64, ...]} out
//	POST /v1/embed     raw PCM in, JSON {embedding: [float, ...]} out
//
// Usage:
//
//	p := speakerserver.New("http://localhost:9092", 192)
//	streams, err := p.Separate(ctx, pcm, 16000)
//	vec, err := p.Embed(ctx, streams[0], 16000)
package speakerserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker"
)

const defaultTimeout = 10 * time.Second

// Compile-time assertions that Provider implements both interfaces.
var (
	_ speaker.Embedder  = (*Provider)(nil)
	_ speaker.Separator = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for model requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithTimeout sets the per-request timeout. Separation of a long utterance is
// the slowest call; size the timeout for it. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider talks to a speaker-model server over HTTP.
type Provider struct {
	serverURL  string
	dimensions int
	client     *http.Client
	timeout    time.Duration
}

// New creates a Provider for the model server at serverURL producing
// embeddings of the given dimensionality.
func New(serverURL string, dimensions int, opts ...Option) *Provider {
	p := &Provider{
		serverURL:  serverURL,
		dimensions: dimensions,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p
}

// Dimensions returns the configured embedding vector length.
func (p *Provider) Dimensions() int { return p.dimensions }

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed computes the speaker embedding for the given PCM.
func (p *Provider) Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	body, err := p.post(ctx, "/v1/embed", pcm, sampleRate)
	if err != nil {
		return nil, err
	}
	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("speaker server: decode embed response: %w", err)
	}
	if len(er.Embedding) != p.dimensions {
		return nil, fmt.Errorf("speaker server: embedding length %d, want %d", len(er.Embedding), p.dimensions)
	}
	return er.Embedding, nil
}

type separateResponse struct {
	Streams []string `json:"streams"`
}

// Separate splits the recording into per-voice PCM streams.
func (p *Provider) Separate(ctx context.Context, pcm []byte, sampleRate int) ([][]byte, error) {
	body, err := p.post(ctx, "/v1/separate", pcm, sampleRate)
	if err != nil {
		return nil, err
	}
	var sr separateResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("speaker server: decode separate response: %w", err)
	}
	if len(sr.Streams) == 0 {
		return nil, fmt.Errorf("speaker server: no streams returned")
	}
	streams := make([][]byte, len(sr.Streams))
	for i, s := range sr.Streams {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("speaker server: decode stream %d: %w", i, err)
		}
		streams[i] = decoded
	}
	return streams, nil
}

func (p *Provider) post(ctx context.Context, path string, pcm []byte, sampleRate int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+path, bytes.NewReader(pcm))
	if err != nil {
		return nil, fmt.Errorf("speaker server: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", strconv.Itoa(sampleRate))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speaker server: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speaker server: %s returned %d: %s", path, resp.StatusCode, msg)
	}
	return io.ReadAll(resp.Body)
}
