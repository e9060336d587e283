package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxhall/voxhall/pkg/provider/asr"
	"github.com/voxhall/voxhall/pkg/provider/llm"
	"github.com/voxhall/voxhall/pkg/provider/tts"
	"github.com/voxhall/voxhall/pkg/provider/vad"
)

// ErrAdapterNotRegistered is returned by Create* methods when no factory has
// been registered under the requested adapter type. At startup this is fatal:
// a config that names an unknown adapter must stop the server.
var ErrAdapterNotRegistered = errors.New("config: adapter not registered")

// Registry maps adapter types to their constructor functions for each
// capability kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad map[string]func(ModuleConfig) (vad.Detector, error)
	asr map[string]func(ModuleConfig) (asr.Recognizer, error)
	llm map[string]func(ModuleConfig) (llm.Provider, error)
	tts map[string]func(ModuleConfig) (tts.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad: make(map[string]func(ModuleConfig) (vad.Detector, error)),
		asr: make(map[string]func(ModuleConfig) (asr.Recognizer, error)),
		llm: make(map[string]func(ModuleConfig) (llm.Provider, error)),
		tts: make(map[string]func(ModuleConfig) (tts.Synthesizer, error)),
	}
}

// RegisterVAD registers a VAD detector factory under adapterType.
// Subsequent calls with the same type overwrite the previous registration.
func (r *Registry) RegisterVAD(adapterType string, factory func(ModuleConfig) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[adapterType] = factory
}

// RegisterASR registers an ASR recognizer factory under adapterType.
func (r *Registry) RegisterASR(adapterType string, factory func(ModuleConfig) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[adapterType] = factory
}

// RegisterLLM registers an LLM provider factory under adapterType.
func (r *Registry) RegisterLLM(adapterType string, factory func(ModuleConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[adapterType] = factory
}

// RegisterTTS registers a TTS synthesizer factory under adapterType.
func (r *Registry) RegisterTTS(adapterType string, factory func(ModuleConfig) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[adapterType] = factory
}

// CreateVAD instantiates a VAD detector using the factory registered under
// m.AdapterType. Returns [ErrAdapterNotRegistered] if none exists.
func (r *Registry) CreateVAD(m ModuleConfig) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.vad[m.AdapterType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrAdapterNotRegistered, m.AdapterType)
	}
	return factory(m)
}

// CreateASR instantiates an ASR recognizer using the factory registered under
// m.AdapterType.
func (r *Registry) CreateASR(m ModuleConfig) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.asr[m.AdapterType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrAdapterNotRegistered, m.AdapterType)
	}
	return factory(m)
}

// CreateLLM instantiates an LLM provider using the factory registered under
// m.AdapterType.
func (r *Registry) CreateLLM(m ModuleConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[m.AdapterType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrAdapterNotRegistered, m.AdapterType)
	}
	return factory(m)
}

// CreateTTS instantiates a TTS synthesizer using the factory registered under
// m.AdapterType.
func (r *Registry) CreateTTS(m ModuleConfig) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[m.AdapterType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrAdapterNotRegistered, m.AdapterType)
	}
	return factory(m)
}
