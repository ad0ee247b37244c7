package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptScorer replays a fixed probability sequence, one value per block.
type scriptScorer struct {
	probs []float64
	pos   int
}

func (s *scriptScorer) Score(block []int16) float64 {
	if s.pos >= len(s.probs) {
		return 0
	}
	p := s.probs[s.pos]
	s.pos++
	return p
}

func testOpts() Options {
	return Options{
		HighThreshold:   0.6,
		LowThreshold:    0.3,
		BlockSamples:    4,
		WindowBlocks:    5,
		WindowVoicedMin: 3,
		SilenceTimeout:  time.Second,
	}
}

func block() []int16 { return make([]int16, 4) }

func TestHysteresisRetainsStateBetweenThresholds(t *testing.T) {
	sc := &scriptScorer{probs: []float64{0.9, 0.45, 0.45, 0.45, 0.45}}
	d := NewDetector(sc, testOpts())

	// First block promotes to voice; mid-band probabilities must retain it.
	for i := 0; i < 5; i++ {
		d.Classify(block())
	}
	assert.True(t, d.VoicePresent(), "mid-band probabilities must not demote a voiced block")
}

func TestHysteresisDemotionRequiresLowThreshold(t *testing.T) {
	// Once voiced, only probabilities at or below the low threshold demote.
	sc := &scriptScorer{probs: []float64{0.9, 0.9, 0.9, 0.5, 0.5, 0.5, 0.5, 0.5}}
	d := NewDetector(sc, testOpts())
	for range sc.probs {
		d.Classify(block())
	}
	assert.True(t, d.VoicePresent(), "0.5 is above the low threshold, state must hold")

	sc2 := &scriptScorer{probs: []float64{0.9, 0.9, 0.9, 0.2, 0.2, 0.2, 0.2, 0.2}}
	d2 := NewDetector(sc2, testOpts())
	for range sc2.probs {
		d2.Classify(block())
	}
	assert.False(t, d2.VoicePresent(), "low-threshold probabilities must demote")
}

func TestVoicePresentRequiresWindowCount(t *testing.T) {
	sc := &scriptScorer{probs: []float64{0.9, 0.1, 0.1, 0.1, 0.1}}
	d := NewDetector(sc, testOpts())
	for range sc.probs {
		d.Classify(block())
	}
	// Only one voiced block in a window needing three.
	assert.False(t, d.VoicePresent())
}

func TestNeverVoicedNeverEndsTurn(t *testing.T) {
	sc := &scriptScorer{probs: make([]float64, 100)}
	d := NewDetector(sc, testOpts())
	base := time.Now()
	d.now = func() time.Time { return base }
	for i := 0; i < 100; i++ {
		d.Classify(block())
	}
	base = base.Add(time.Hour)
	assert.False(t, d.TurnEnded(), "silence-only session must never end a turn")
}

func TestTurnEndAfterSilenceTimeout(t *testing.T) {
	probs := []float64{0.9, 0.9, 0.9, 0.9, 0.9}
	probs = append(probs, make([]float64, 10)...) // silence
	sc := &scriptScorer{probs: probs}
	d := NewDetector(sc, testOpts())

	clock := time.Now()
	d.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		d.Classify(block())
	}
	require.True(t, d.VoicePresent())
	require.True(t, d.EverVoiced())

	for i := 0; i < 10; i++ {
		clock = clock.Add(100 * time.Millisecond)
		d.Classify(block())
	}
	assert.False(t, d.VoicePresent())
	assert.False(t, d.TurnEnded(), "timeout not yet elapsed")

	clock = clock.Add(2 * time.Second)
	assert.True(t, d.TurnEnded())

	d.EndTurn()
	assert.False(t, d.EverVoiced(), "window must be cleared on confirmed turn-end")
	assert.False(t, d.TurnEnded())
}

func TestUnknownScorerFailsFast(t *testing.T) {
	_, err := NewScorer("no-such-provider")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-provider")
}

func TestRMSScorerBounds(t *testing.T) {
	s := NewRMSScorer(100)
	loud := make([]int16, 64)
	for i := range loud {
		loud[i] = 20000
	}
	assert.Equal(t, 1.0, s.Score(loud), "score is clamped to 1")
	assert.Equal(t, 0.0, s.Score(make([]int16, 64)))
	assert.Equal(t, 0.0, s.Score(nil))
}
