package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voicegate-lab/internal/config"
)

// Factory builds a provider from startup configuration.
type Factory[T any] func(cfg config.ProviderConfig) (T, error)

// Registry maps provider names to factories, populated at init/startup.
// Unknown names fail fast with a descriptive error rather than being
// resolved dynamically at first use.
type Registry[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (r *Registry[T]) Register(name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = f
}

func (r *Registry[T]) New(name string, cfg config.ProviderConfig) (T, error) {
	var zero T
	r.mu.RLock()
	f, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.RLock()
		known := make([]string, 0, len(r.m))
		for k := range r.m {
			known = append(known, k)
		}
		r.mu.RUnlock()
		sort.Strings(known)
		return zero, fmt.Errorf("providers: unknown %s provider %q (registered: %v)", r.kind, name, known)
	}
	return f(cfg)
}

// Package-level registries for the four provider kinds.
var (
	STT        = NewRegistry[SpeechToText]("stt")
	TTS        = NewRegistry[TextToSpeech]("tts")
	Voiceprint = NewRegistry[VoicePrintIdentifier]("voiceprint")
	Intent     = NewRegistry[IntentClassifier]("intent")
)
