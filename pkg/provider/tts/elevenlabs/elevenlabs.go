// Package elevenlabs provides an ElevenLabs-backed synthesizer for kiosk
// prompts using the ElevenLabs HTTP text-to-speech API. It implements the
// tts.Synthesizer interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	ttsEndpointFmt = "%s/v1/text-to-speech/%s?output_format=%s"
	defaultModel   = "eleven_flash_v2_5"
	defaultTimeout = 30 * time.Second

	// Only pcm_* output formats are accepted; anything else would hand back
	// a container instead of raw samples.
	pcmFormatPrefix = "pcm_"
	defaultFormat   = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithOutputFormat sets the audio output format. Only raw PCM formats are
// accepted ("pcm_16000", "pcm_22050", "pcm_24000", "pcm_44100").
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		s.outputFormat = format
	}
}

// WithBaseURL overrides the API base URL. Useful for proxies and tests.
func WithBaseURL(baseURL string) Option {
	return func(s *Synthesizer) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithVoiceSettings overrides the default stability / similarity-boost pair
// sent with every request.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(s *Synthesizer) {
		s.settings = &voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs HTTP API.
// It is safe for concurrent use.
type Synthesizer struct {
	apiKey       string
	baseURL      string
	voiceID      string
	model        string
	outputFormat string
	settings     *voiceSettings
	httpClient   *http.Client
}

// New creates an ElevenLabs Synthesizer speaking with the given voice.
// apiKey and voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultFormat,
		settings:     &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := sampleRateFromFormat(s.outputFormat); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the synthesizer identifier for logging.
func (s *Synthesizer) Name() string {
	return "elevenlabs/" + s.model
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ttsRequest is the JSON body sent to POST /v1/text-to-speech/{voice_id}.
type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// Synthesize issues one HTTP synthesis request for the prompt text and
// returns the raw PCM from the response body.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	body := ttsRequest{
		Text:          text,
		ModelID:       s.model,
		VoiceSettings: s.settings,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal tts request: %w", err)
	}

	reqURL := fmt.Sprintf(ttsEndpointFmt, s.baseURL, s.voiceID, s.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create tts request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: POST text-to-speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: text-to-speech returned status %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read PCM response: %w", err)
	}

	rate, err := sampleRateFromFormat(s.outputFormat)
	if err != nil {
		return nil, err
	}
	return &tts.Audio{
		PCM:        pcm,
		SampleRate: rate,
		Channels:   1,
	}, nil
}

// sampleRateFromFormat extracts the sample rate from a pcm_* output format
// string. Non-PCM formats are rejected.
func sampleRateFromFormat(format string) (int, error) {
	if !strings.HasPrefix(format, pcmFormatPrefix) {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(strings.TrimPrefix(format, pcmFormatPrefix))
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
	}
	return rate, nil
}
