// Package whisper provides a whisper.cpp-backed speech recognizer.
//
// Two implementations live here: Provider talks to a running whisper-server
// binary over its REST API (POST /inference), NativeProvider links the
// whisper.cpp CGO bindings directly. Both consume the preprocessor's cleaned
// PCM and return per-segment average log-probabilities for the confidence
// gate.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("ko"))
//	res, err := p.Recognize(ctx, feats)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

const (
	defaultLanguage = "ko"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Provider implements asr.Recognizer.
var _ asr.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the server. Defaults to
// "ko".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTimeout sets the per-utterance inference timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements asr.Recognizer backed by a whisper-server HTTP
// endpoint. Safe for concurrent use; each Recognize call is independent.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Provider for the whisper server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: serverURL,
		language:  defaultLanguage,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: p.timeout}
	}
	return p, nil
}

// Name identifies this backend.
func (p *Provider) Name() string { return "whisper-server" }

// inferenceResponse mirrors whisper-server's JSON output with per-segment
// statistics enabled.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Recognize encodes the cleaned PCM as WAV and POSTs it to /inference as
// multipart/form-data.
func (p *Provider) Recognize(ctx context.Context, feats *types.Features) (*asr.Result, error) {
	if feats == nil || len(feats.PCM) == 0 {
		return nil, fmt.Errorf("whisper: empty features")
	}

	wav := encodeWAV(feats.PCM, feats.SampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, msg)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var ir inferenceResponse
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	result := &asr.Result{Text: ir.Text}
	for _, seg := range ir.Segments {
		result.Segments = append(result.Segments, types.Segment{
			Text:       seg.Text,
			AvgLogProb: seg.AvgLogProb,
		})
	}
	return result, nil
}
