// Package deepgram provides a speech recognizer backed by the Deepgram
// streaming API.
//
// Although the dialogue pipeline recognizes whole utterances, Deepgram only
// exposes a websocket streaming endpoint, so Recognize dials a fresh
// connection per utterance, feeds the cleaned PCM in chunks, closes the
// stream and collects the final results. Deepgram reports a per-alternative
// confidence probability rather than log-probabilities; it is mapped through
// log so the confidence gate's exponentiation recovers the original value.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "ko"

	// chunkBytes is the PCM slice size per websocket message; 8 KiB keeps
	// messages comfortably under Deepgram's frame limits.
	chunkBytes = 8192
)

// Compile-time assertion that Provider implements asr.Recognizer.
var _ asr.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model. Defaults to "nova-2".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the transcription language. Defaults to "ko".
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the websocket endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements asr.Recognizer backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name identifies this backend.
func (p *Provider) Name() string { return "deepgram" }

// response is the JSON structure Deepgram sends for a Results event.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Recognize streams the utterance PCM over a fresh websocket connection and
// assembles the final transcripts into one result.
func (p *Provider) Recognize(ctx context.Context, feats *types.Features) (*asr.Result, error) {
	if feats == nil || len(feats.PCM) == 0 {
		return nil, fmt.Errorf("deepgram: empty features")
	}

	wsURL, err := p.buildURL(feats.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "utterance complete")

	for start := 0; start < len(feats.PCM); start += chunkBytes {
		end := min(start+chunkBytes, len(feats.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, feats.PCM[start:end]); err != nil {
			return nil, fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return nil, fmt.Errorf("deepgram: close stream: %w", err)
	}

	result := &asr.Result{}
	var parts []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("deepgram: read: %w", ctx.Err())
			}
			// Server closes the socket after the stream is drained.
			break
		}

		var r response
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if r.Type != "Results" || !r.IsFinal || len(r.Channel.Alternatives) == 0 {
			continue
		}
		alt := r.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		parts = append(parts, alt.Transcript)
		result.Segments = append(result.Segments, types.Segment{
			Text:       alt.Transcript,
			AvgLogProb: confidenceToLogProb(alt.Confidence),
		})
	}

	result.Text = strings.Join(parts, " ")
	return result, nil
}

func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// confidenceToLogProb maps Deepgram's probability-space confidence into the
// log space the confidence gate expects. Zero confidence is floored so the
// gate sees a very low, finite value.
func confidenceToLogProb(confidence float64) float64 {
	if confidence < 1e-10 {
		confidence = 1e-10
	}
	if confidence > 1 {
		confidence = 1
	}
	return math.Log(confidence)
}
