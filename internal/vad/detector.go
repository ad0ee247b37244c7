package vad

import (
	"time"
)

// Options tunes a Detector. Thresholds create hysteresis: probabilities at
// or above High promote a block to voice, at or below Low demote it to
// silence, and anything in between keeps the previous block's state.
type Options struct {
	HighThreshold   float64
	LowThreshold    float64
	BlockSamples    int
	WindowBlocks    int
	WindowVoicedMin int
	SilenceTimeout  time.Duration

	// Now overrides the clock for silence timing. Nil means time.Now.
	Now func() time.Time
}

// Detector classifies PCM frames into a per-session voice/silence signal and
// detects the end-of-turn edge. It is not safe for concurrent use; each
// session owns one Detector driven from its orchestration goroutine.
type Detector struct {
	opts   Options
	scorer Scorer

	carry      []int16 // partial block held between frames
	window     []bool  // ring buffer of block decisions
	windowPos  int
	windowFill int

	blockVoiced  bool // hysteresis state of the most recent block
	everVoiced   bool
	lastVoicedAt time.Time

	now func() time.Time
}

func NewDetector(scorer Scorer, opts Options) *Detector {
	if opts.BlockSamples <= 0 {
		opts.BlockSamples = 512
	}
	if opts.WindowBlocks <= 0 {
		opts.WindowBlocks = 15
	}
	if opts.WindowVoicedMin <= 0 {
		opts.WindowVoicedMin = opts.WindowBlocks/2 + 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{
		opts:   opts,
		scorer: scorer,
		window: make([]bool, opts.WindowBlocks),
		now:    now,
	}
}

// Classify feeds one decoded frame through the block scorer and returns
// whether the session currently reads as voiced. Partial trailing blocks are
// carried into the next call so block boundaries are independent of frame
// boundaries.
func (d *Detector) Classify(pcm []int16) bool {
	d.carry = append(d.carry, pcm...)
	for len(d.carry) >= d.opts.BlockSamples {
		block := d.carry[:d.opts.BlockSamples]
		d.carry = d.carry[d.opts.BlockSamples:]
		d.pushBlock(d.classifyBlock(block))
	}
	voiced := d.VoicePresent()
	if voiced {
		d.everVoiced = true
		d.lastVoicedAt = d.now()
	}
	return voiced
}

func (d *Detector) classifyBlock(block []int16) bool {
	p := d.scorer.Score(block)
	switch {
	case p >= d.opts.HighThreshold:
		d.blockVoiced = true
	case p <= d.opts.LowThreshold:
		d.blockVoiced = false
	}
	// between thresholds: retain previous state
	return d.blockVoiced
}

func (d *Detector) pushBlock(voiced bool) {
	d.window[d.windowPos] = voiced
	d.windowPos = (d.windowPos + 1) % len(d.window)
	if d.windowFill < len(d.window) {
		d.windowFill++
	}
}

// VoicePresent reports whether the trailing decision window reads as voiced.
func (d *Detector) VoicePresent() bool {
	count := 0
	for i := 0; i < d.windowFill; i++ {
		if d.window[i] {
			count++
		}
	}
	return count >= d.opts.WindowVoicedMin
}

// EverVoiced reports whether this turn has seen any confirmed voice. A
// session that never goes voiced never ends a turn.
func (d *Detector) EverVoiced() bool { return d.everVoiced }

// TurnEnded reports the end-of-turn edge: the session was voiced at some
// point, the window no longer reads voiced, and silence has lasted beyond
// the configured timeout.
func (d *Detector) TurnEnded() bool {
	if !d.everVoiced || d.VoicePresent() {
		return false
	}
	return d.now().Sub(d.lastVoicedAt) >= d.opts.SilenceTimeout
}

// EndTurn clears the decision window and voiced state after a confirmed
// turn-end so nothing stale carries into the next utterance.
func (d *Detector) EndTurn() {
	for i := range d.window {
		d.window[i] = false
	}
	d.windowPos = 0
	d.windowFill = 0
	d.carry = d.carry[:0]
	d.blockVoiced = false
	d.everVoiced = false
	d.lastVoicedAt = time.Time{}
}
