package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/provider/embeddings"
	"github.com/voxkiosk/voxkiosk/pkg/provider/llm"
	"github.com/voxkiosk/voxkiosk/pkg/provider/payment"
	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	asr        map[string]func(ProviderEntry) (asr.Recognizer, error)
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	tts        map[string]func(ProviderEntry) (tts.Synthesizer, error)
	vad        map[string]func(ProviderEntry) (vad.Engine, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	speaker    map[string]func(ProviderEntry) (speaker.Service, error)
	payment    map[string]func(ProviderEntry) (payment.Processor, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:        make(map[string]func(ProviderEntry) (asr.Recognizer, error)),
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
		vad:        make(map[string]func(ProviderEntry) (vad.Engine, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		speaker:    make(map[string]func(ProviderEntry) (speaker.Service, error)),
		payment:    make(map[string]func(ProviderEntry) (payment.Processor, error)),
	}
}

// RegisterASR registers a speech recogniser factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a speech synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a voice-activity engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterSpeaker registers a speaker-model service factory under name.
func (r *Registry) RegisterSpeaker(name string, factory func(ProviderEntry) (speaker.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaker[name] = factory
}

// RegisterPayment registers a payment processor factory under name.
func (r *Registry) RegisterPayment(name string, factory func(ProviderEntry) (payment.Processor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payment[name] = factory
}

// CreateASR instantiates a speech recogniser using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a speech synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a voice-activity engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSpeaker instantiates a speaker-model service using the factory registered under entry.Name.
func (r *Registry) CreateSpeaker(entry ProviderEntry) (speaker.Service, error) {
	r.mu.RLock()
	factory, ok := r.speaker[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speaker/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePayment instantiates a payment processor using the factory registered under entry.Name.
func (r *Registry) CreatePayment(entry ProviderEntry) (payment.Processor, error) {
	r.mu.RLock()
	factory, ok := r.payment[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: payment/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
