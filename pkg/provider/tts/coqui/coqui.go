// Package coqui provides a Coqui-TTS-backed synthesizer for kiosk prompts.
//
// It supports two server APIs: the standard Coqui TTS server (GET /api/tts,
// as shipped in the ghcr.io/coqui-ai/tts-cpu Docker image) and the XTTS v2
// API server (POST /tts_to_audio/). Both return WAV; the container header is
// stripped and the raw PCM handed back, optionally resampled to the playback
// rate of the kiosk speaker.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	defaultLanguage = "ko"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the synthesizer will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	// It requires a speaker reference (speaker_wav) for every request.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode. Single-speaker models need no speaker ID.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the language code sent to the TTS server (e.g., "ko",
// "en"). Defaults to "ko", the kiosk's prompt language.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// WithSpeaker sets the speaker identifier. For APIModeStandard this is the
// speaker_id of a multi-speaker model; for APIModeXTTS it is the speaker_wav
// reference and must be non-empty.
func WithSpeaker(id string) Option {
	return func(s *Synthesizer) {
		s.speaker = id
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) {
		s.apiMode = mode
	}
}

// WithOutputSampleRate configures the synthesizer to resample PCM to the
// given sample rate before returning it. When set to 0 (default), no
// resampling is performed and PCM is returned at the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		s.outputRate = rate
	}
}

// Synthesizer implements tts.Synthesizer backed by a locally-running Coqui
// TTS server. It is safe for concurrent use.
type Synthesizer struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int // target sample rate; 0 = no resampling
}

// New creates a Coqui Synthesizer that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty. In
// APIModeXTTS a speaker must be configured via WithSpeaker.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.apiMode == APIModeXTTS && s.speaker == "" {
		return nil, errors.New("coqui: speaker must not be empty in XTTS mode")
	}
	return s, nil
}

// Name returns the synthesizer identifier for logging.
func (s *Synthesizer) Name() string {
	return "coqui"
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize issues one HTTP synthesis request for the full prompt text and
// returns the decoded PCM. Kiosk prompts are a sentence or two, short enough
// that splitting them is not worth the extra round trips.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	var (
		wav []byte
		err error
	)
	if s.apiMode == APIModeStandard {
		wav, err = s.requestStandard(ctx, text)
	} else {
		wav, err = s.requestXTTS(ctx, text)
	}
	if err != nil {
		return nil, err
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}

	audio := &tts.Audio{
		PCM:        wav[info.DataOffset:],
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}
	if s.outputRate > 0 && info.SampleRate != s.outputRate && info.Channels == 1 {
		audio.PCM = resampleMono16(audio.PCM, info.SampleRate, s.outputRate)
		audio.SampleRate = s.outputRate
	}
	return audio, nil
}

// requestXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode) and
// returns the raw WAV response.
func (s *Synthesizer) requestXTTS(ctx context.Context, text string) ([]byte, error) {
	body := ttsRequest{
		Text:       text,
		SpeakerWav: s.speaker,
		Language:   s.language,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// requestStandard performs a single GET /api/tts request (standard server
// mode) using URL query parameters and returns the raw WAV response.
func (s *Synthesizer) requestStandard(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if s.speaker != "" {
		params.Set("speaker_id", s.speaker)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}

	reqURL := s.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second (e.g., 22050, 44100, 48000)
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. This is more robust than
// hardcoding a fixed 44-byte offset because the fmt chunk size may vary.
//
// Returns an error if wav is not a valid RIFF/WAVE container or if the fmt
// or data chunk cannot be located.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				// Some encoders place data before fmt; assume the Coqui default.
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}
