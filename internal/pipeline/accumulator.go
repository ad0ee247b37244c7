package pipeline

import (
	"sync"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/metrics"
)

// Accumulator collects decoded PCM frames for one session's current turn.
// Until voice is heard it keeps only a short trailing tail, so the start of
// speech carries a little pre-roll context into recognition. Frames arrive
// through a buffered queue and are drained without blocking, matching the
// bursty cadence of the websocket read loop.
type Accumulator struct {
	pending chan []int16

	mu     sync.Mutex
	frames [][]int16
	voiced bool

	cfg config.AccumulatorConfig
}

func NewAccumulator(cfg config.AccumulatorConfig) *Accumulator {
	return &Accumulator{
		pending: make(chan []int16, 256),
		cfg:     cfg,
	}
}

// Append queues one decoded frame. voicePresent is the detector's verdict
// for this frame; the first true switches the accumulator from tail-keeping
// to full capture for the rest of the turn.
func (a *Accumulator) Append(pcm []int16, voicePresent bool) {
	if voicePresent {
		a.mu.Lock()
		a.voiced = true
		a.mu.Unlock()
	}
	select {
	case a.pending <- pcm:
	default:
		logging.Warnw("accumulator: frame queue full, dropping frame")
	}
	a.collect()
}

// collect drains everything queued so far into the frame buffer.
func (a *Accumulator) collect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		select {
		case f := <-a.pending:
			a.frames = append(a.frames, f)
			if !a.voiced && len(a.frames) > a.cfg.TailFrames {
				a.frames = a.frames[len(a.frames)-a.cfg.TailFrames:]
			}
		default:
			return
		}
	}
}

// Full reports whether the turn has hit the frame cap and must be flushed
// even though the speaker has not gone quiet.
func (a *Accumulator) Full() bool {
	a.collect()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voiced && len(a.frames) >= a.cfg.MaxUtteranceFrames
}

// Flush ends the turn and returns its PCM, or nil when there is nothing
// worth recognizing. Turns shorter than the minimum are treated as noise
// and discarded. Flushing twice is harmless; the second call returns nil.
func (a *Accumulator) Flush() []int16 {
	a.collect()
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.voiced {
		// Nothing but tail context. Keep it for the next turn.
		return nil
	}
	n := len(a.frames)
	if n < a.cfg.MinUtteranceFrames {
		logging.Debugw("accumulator: discarding short turn", "frames", n, "min", a.cfg.MinUtteranceFrames)
		metrics.TurnsDiscarded.Inc()
		a.reset()
		return nil
	}

	total := 0
	for _, f := range a.frames {
		total += len(f)
	}
	pcm := make([]int16, 0, total)
	for _, f := range a.frames {
		pcm = append(pcm, f...)
	}
	a.reset()
	metrics.TurnsFlushed.Inc()
	logging.Debugw("accumulator: flushed turn", "frames", n, "samples", total)
	return pcm
}

// Reset drops everything buffered, including the silent tail. Used on abort
// and on session close.
func (a *Accumulator) Reset() {
	a.collect()
	a.mu.Lock()
	a.reset()
	a.mu.Unlock()
}

func (a *Accumulator) reset() {
	a.frames = nil
	a.voiced = false
}
