package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/providers"
	"github.com/voicegate-lab/internal/vad"
	"github.com/voicegate-lab/internal/worker"
)

func accCfg() config.AccumulatorConfig {
	return config.AccumulatorConfig{TailFrames: 10, MinUtteranceFrames: 5, MaxUtteranceFrames: 50}
}

func frame(val int16, n int) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = val
	}
	return f
}

func TestAccumulatorKeepsOnlyTailWhileSilent(t *testing.T) {
	a := NewAccumulator(accCfg())
	for i := 0; i < 30; i++ {
		a.Append(frame(int16(i), 4), false)
	}
	// Never voiced: flush yields nothing and the tail survives.
	assert.Nil(t, a.Flush())

	a.Append(frame(99, 4), true)
	for i := 0; i < 6; i++ {
		a.Append(frame(99, 4), true)
	}
	pcm := a.Flush()
	require.NotNil(t, pcm)
	// 10 tail frames + 7 voiced frames, 4 samples each.
	assert.Len(t, pcm, 17*4)
	// The tail holds the most recent silent frames, values 20..29.
	assert.Equal(t, int16(20), pcm[0])
}

func TestAccumulatorDiscardsShortTurn(t *testing.T) {
	a := NewAccumulator(config.AccumulatorConfig{TailFrames: 0, MinUtteranceFrames: 5, MaxUtteranceFrames: 50})
	a.Append(frame(1, 4), true)
	a.Append(frame(1, 4), true)
	assert.Nil(t, a.Flush())
	// Discard resets the turn entirely.
	assert.Nil(t, a.Flush())
}

func TestAccumulatorFlushIsIdempotent(t *testing.T) {
	a := NewAccumulator(accCfg())
	for i := 0; i < 8; i++ {
		a.Append(frame(1, 4), true)
	}
	require.NotNil(t, a.Flush())
	assert.Nil(t, a.Flush())
}

func TestAccumulatorFullAtCap(t *testing.T) {
	a := NewAccumulator(config.AccumulatorConfig{TailFrames: 2, MinUtteranceFrames: 1, MaxUtteranceFrames: 10})
	for i := 0; i < 9; i++ {
		a.Append(frame(1, 4), true)
		assert.False(t, a.Full())
	}
	a.Append(frame(1, 4), true)
	assert.True(t, a.Full())
	require.NotNil(t, a.Flush())
	assert.False(t, a.Full())
}

func TestAccumulatorReset(t *testing.T) {
	a := NewAccumulator(accCfg())
	for i := 0; i < 8; i++ {
		a.Append(frame(1, 4), true)
	}
	a.Reset()
	assert.Nil(t, a.Flush())
}

type stepScorer struct {
	scores []float64
	i      int
}

func (s *stepScorer) Score(block []int16) float64 {
	if s.i >= len(s.scores) {
		return 0
	}
	p := s.scores[s.i]
	s.i++
	return p
}

func TestTurnDetectionFlushesOnceAcrossSilenceVoiceSilence(t *testing.T) {
	const frameSamples = 512
	var scores []float64
	for i := 0; i < 20; i++ {
		scores = append(scores, 0.1)
	}
	for i := 0; i < 5; i++ {
		scores = append(scores, 0.9)
	}
	for i := 0; i < 25; i++ {
		scores = append(scores, 0.1)
	}

	clock := time.Unix(0, 0)
	det := vad.NewDetector(&stepScorer{scores: scores}, vad.Options{
		HighThreshold:   0.60,
		LowThreshold:    0.35,
		BlockSamples:    frameSamples,
		WindowBlocks:    4,
		WindowVoicedMin: 2,
		SilenceTimeout:  1200 * time.Millisecond,
		Now:             func() time.Time { return clock },
	})
	acc := NewAccumulator(config.AccumulatorConfig{TailFrames: 10, MinUtteranceFrames: 15, MaxUtteranceFrames: 1000})

	var flushes [][]int16
	for i := range scores {
		clock = clock.Add(60 * time.Millisecond)
		voice := det.Classify(frame(1, frameSamples))
		acc.Append(frame(1, frameSamples), voice)
		if i < 20 {
			assert.False(t, det.TurnEnded(), "frame %d: no turn end before any voice", i)
			continue
		}
		if det.TurnEnded() || acc.Full() {
			det.EndTurn()
			if pcm := acc.Flush(); pcm != nil {
				flushes = append(flushes, pcm)
			}
		}
	}

	require.Len(t, flushes, 1)
	// 10 tail frames retained at voice onset plus everything through the
	// silence timeout edge.
	assert.Len(t, flushes[0], 36*frameSamples)
	// The trailing silence after the flush never starts a second turn.
	assert.False(t, det.TurnEnded())
	assert.Nil(t, acc.Flush())
}

type fakeSTT struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeSTT) Recognize(ctx context.Context, wav []byte, sessionID string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeVoicePrint struct {
	label string
	conf  float64
	err   error
}

func (f *fakeVoicePrint) Identify(ctx context.Context, wav []byte, sessionID string) (string, float64, error) {
	return f.label, f.conf, f.err
}

func newTestOrchestrator(t *testing.T, stt providers.SpeechToText, vp providers.VoicePrintIdentifier, timeoutMs int) *Orchestrator {
	t.Helper()
	pool := worker.New(4, 16)
	t.Cleanup(pool.Close)
	return NewOrchestrator(stt, vp, pool,
		config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMs: 60},
		config.RecognitionConfig{TimeoutMs: timeoutMs, SpeakerThreshold: 0.40})
}

func TestOrchestratorMergesBothLegs(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSTT{text: "open the door"}, &fakeVoicePrint{label: "Alice", conf: 0.9}, 1000)
	res, err := o.Recognize(context.Background(), frame(100, 960), "s1")
	require.NoError(t, err)
	assert.Equal(t, "open the door", res.Transcript)
	assert.Equal(t, "Alice", res.SpeakerLabel)
	assert.InDelta(t, 0.9, res.SpeakerConfidence, 1e-9)
	assert.False(t, res.Empty())
}

func TestOrchestratorSTTTimeoutStillReportsSpeaker(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSTT{text: "never", delay: time.Second}, &fakeVoicePrint{label: "Alice", conf: 0.9}, 50)
	res, err := o.Recognize(context.Background(), frame(100, 960), "s1")
	require.NoError(t, err)
	assert.Empty(t, res.Transcript)
	assert.True(t, res.Empty())
	assert.Equal(t, "Alice", res.SpeakerLabel)
}

func TestOrchestratorLowConfidenceIsUnknown(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSTT{text: "hi"}, &fakeVoicePrint{label: "Bob", conf: 0.2}, 1000)
	res, err := o.Recognize(context.Background(), frame(100, 960), "s1")
	require.NoError(t, err)
	assert.Equal(t, UnknownSpeaker, res.SpeakerLabel)
	assert.Zero(t, res.SpeakerConfidence)
}

func TestOrchestratorVoiceprintErrorDegrades(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSTT{text: "hi"}, &fakeVoicePrint{err: errors.New("backend down")}, 1000)
	res, err := o.Recognize(context.Background(), frame(100, 960), "s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Transcript)
	assert.Equal(t, UnknownSpeaker, res.SpeakerLabel)
}

func TestOrchestratorWithoutVoiceprint(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSTT{text: "hi"}, nil, 1000)
	res, err := o.Recognize(context.Background(), frame(100, 960), "s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Transcript)
	assert.Equal(t, UnknownSpeaker, res.SpeakerLabel)
}

func TestOrchestratorContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(t, &fakeSTT{text: "hi"}, nil, 1000)
	_, err := o.Recognize(ctx, frame(100, 960), "s1")
	assert.ErrorIs(t, err, context.Canceled)
}
