package vad

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Scorer produces a speech probability in [0,1] for one fixed-size block of
// PCM samples. Implementations must be cheap: the scorer runs on the session
// orchestration goroutine for every inbound block.
type Scorer interface {
	Score(block []int16) float64
}

// ScorerFactory builds a scorer from startup configuration.
type ScorerFactory func() (Scorer, error)

var (
	regMu    sync.RWMutex
	registry = map[string]ScorerFactory{}
)

// RegisterScorer adds a named scorer factory. Called from init or startup;
// duplicate names overwrite.
func RegisterScorer(name string, f ScorerFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// NewScorer instantiates the named scorer. Unknown names fail fast with the
// list of registered providers.
func NewScorer(name string) (Scorer, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		regMu.RLock()
		known := make([]string, 0, len(registry))
		for k := range registry {
			known = append(known, k)
		}
		regMu.RUnlock()
		sort.Strings(known)
		return nil, fmt.Errorf("vad: unknown scorer %q (registered: %v)", name, known)
	}
	return f()
}

// RMSScorer maps block RMS energy onto [0,1]. fullScale is the RMS level
// treated as certain speech; quieter blocks scale linearly.
type RMSScorer struct {
	fullScale float64
}

func NewRMSScorer(fullScale float64) *RMSScorer {
	if fullScale <= 0 {
		fullScale = 6000
	}
	return &RMSScorer{fullScale: fullScale}
}

func (r *RMSScorer) Score(block []int16) float64 {
	if len(block) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range block {
		v := int64(s)
		sumSq += v * v
	}
	rms := math.Sqrt(float64(sumSq) / float64(len(block)))
	p := rms / r.fullScale
	if p > 1 {
		p = 1
	}
	return p
}

func init() {
	RegisterScorer("rms", func() (Scorer, error) { return NewRMSScorer(0), nil })
}
