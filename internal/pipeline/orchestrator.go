package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicegate-lab/internal/audio"
	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/metrics"
	"github.com/voicegate-lab/internal/providers"
	"github.com/voicegate-lab/internal/worker"
)

// UnknownSpeaker is the label reported when no voiceprint matched or the
// match fell below the confidence threshold.
const UnknownSpeaker = "unknown"

// RecognitionResult carries the merged output of transcription and speaker
// identification for one flushed turn.
type RecognitionResult struct {
	Transcript        string
	SpeakerLabel      string
	SpeakerConfidence float64
}

// Empty reports whether the turn produced nothing actionable.
func (r RecognitionResult) Empty() bool {
	return strings.TrimSpace(r.Transcript) == ""
}

// Orchestrator runs speech-to-text and voiceprint identification in
// parallel over the same utterance. Each leg gets its own timeout; a failed
// or slow leg degrades to an empty result instead of failing the turn.
type Orchestrator struct {
	stt        providers.SpeechToText
	voiceprint providers.VoicePrintIdentifier
	pool       *worker.Pool

	timeout          time.Duration
	speakerThreshold float64
	sampleRate       int
	channels         int
}

func NewOrchestrator(stt providers.SpeechToText, vp providers.VoicePrintIdentifier, pool *worker.Pool, audioCfg config.AudioConfig, recCfg config.RecognitionConfig) *Orchestrator {
	return &Orchestrator{
		stt:              stt,
		voiceprint:       vp,
		pool:             pool,
		timeout:          time.Duration(recCfg.TimeoutMs) * time.Millisecond,
		speakerThreshold: recCfg.SpeakerThreshold,
		sampleRate:       audioCfg.SampleRate,
		channels:         audioCfg.Channels,
	}
}

// Recognize encodes pcm as WAV once and fans it out to both recognizers.
// The returned error is only non-nil when ctx itself died; provider
// failures are logged and degraded.
func (o *Orchestrator) Recognize(ctx context.Context, pcm []int16, sessionID string) (RecognitionResult, error) {
	wav := audio.BuildWAV(audio.PCMToBytes(pcm), o.sampleRate, o.channels, 16)
	started := time.Now()

	// Do can return on leg timeout while the worker is still inside the
	// closure, so merged fields stay behind a mutex.
	var mu sync.Mutex
	var result RecognitionResult
	result.SpeakerLabel = UnknownSpeaker

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(gctx, o.timeout)
		defer cancel()
		err := o.pool.Do(legCtx, func(c context.Context) error {
			text, err := o.stt.Recognize(c, wav, sessionID)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Transcript = text
			mu.Unlock()
			return nil
		})
		if err != nil {
			logging.Warnw("recognition: stt leg degraded", "session_id", sessionID, "error", err)
		}
		return nil
	})

	if o.voiceprint != nil {
		g.Go(func() error {
			legCtx, cancel := context.WithTimeout(gctx, o.timeout)
			defer cancel()
			err := o.pool.Do(legCtx, func(c context.Context) error {
				label, conf, err := o.voiceprint.Identify(c, wav, sessionID)
				if err != nil {
					return err
				}
				if label != "" && conf >= o.speakerThreshold {
					mu.Lock()
					result.SpeakerLabel = label
					result.SpeakerConfidence = conf
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				logging.Warnw("recognition: voiceprint leg degraded", "session_id", sessionID, "error", err)
			}
			return nil
		})
	}

	// Legs never return errors, so Wait only unblocks when both are done.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return RecognitionResult{SpeakerLabel: UnknownSpeaker}, err
	}

	mu.Lock()
	out := result
	mu.Unlock()
	metrics.RecognitionLatency.Observe(time.Since(started).Seconds())
	logging.Infow("recognition: turn complete",
		"session_id", sessionID,
		"transcript_len", len(out.Transcript),
		"speaker", out.SpeakerLabel,
		"latency_ms", time.Since(started).Milliseconds())
	return out, nil
}
