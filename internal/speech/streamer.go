package speech

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/metrics"
	"github.com/voicegate-lab/internal/session"
)

var ErrStreamerClosed = errors.New("fragment streamer closed")

// Streamer is the per-session ordered fragment queue. Producers (the reply
// pipeline) push through Begin/Text/End; a single consumer goroutine drains
// in order and decides, fragment by fragment, whether the utterance has been
// aborted. Filtering happens only at this delivery boundary so producers
// never need to coordinate with abort handling.
type Streamer struct {
	sess    *session.Session
	queue   chan Fragment
	limiter *rate.Limiter
}

// NewStreamer builds a streamer with the given queue depth and delivery
// pacing in fragments per second. perSecond <= 0 disables pacing.
func NewStreamer(sess *session.Session, depth int, perSecond float64) *Streamer {
	if depth <= 0 {
		depth = 64
	}
	var limiter *rate.Limiter
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Streamer{
		sess:    sess,
		queue:   make(chan Fragment, depth),
		limiter: limiter,
	}
}

// Begin enqueues the First marker for an utterance. text is the full reply
// text, carried for client display alongside the boundary.
func (s *Streamer) Begin(ctx context.Context, utteranceID, text string) error {
	return s.push(ctx, Fragment{UtteranceID: utteranceID, Position: First, Kind: KindControl, Text: text})
}

// Text enqueues one Middle sentence fragment.
func (s *Streamer) Text(ctx context.Context, utteranceID, text string) error {
	return s.push(ctx, Fragment{UtteranceID: utteranceID, Position: Middle, Kind: KindText, Text: text})
}

// Audio enqueues one Middle fragment of pre-synthesized audio.
func (s *Streamer) Audio(ctx context.Context, utteranceID string, audio []byte) error {
	return s.push(ctx, Fragment{UtteranceID: utteranceID, Position: Middle, Kind: KindAudio, Audio: audio})
}

// End enqueues the Last marker.
func (s *Streamer) End(ctx context.Context, utteranceID string) error {
	return s.push(ctx, Fragment{UtteranceID: utteranceID, Position: Last, Kind: KindControl})
}

// Fail short-circuits a broken utterance: one spoken apology, then the Last
// marker, so the client always sees a well-formed boundary pair.
func (s *Streamer) Fail(ctx context.Context, utteranceID, apology string) error {
	if apology != "" {
		if err := s.push(ctx, Fragment{UtteranceID: utteranceID, Position: Middle, Kind: KindText, Text: apology}); err != nil {
			return err
		}
	}
	return s.End(ctx, utteranceID)
}

func (s *Streamer) push(ctx context.Context, f Fragment) error {
	select {
	case s.queue <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume drains fragments in order, dropping those whose utterance was
// aborted, and hands the rest to deliver. Returns when ctx dies, deliver
// fails, or the streamer is closed.
func (s *Streamer) Consume(ctx context.Context, deliver func(Fragment) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-s.queue:
			if !ok {
				return ErrStreamerClosed
			}
			if s.sess.IsAborted(f.UtteranceID) {
				metrics.FragmentsFiltered.Inc()
				logging.Debugw("streamer: dropped fragment for aborted utterance",
					"session_id", s.sess.ID, "utterance_id", f.UtteranceID, "position", f.Position.String())
				continue
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := deliver(f); err != nil {
				return err
			}
			metrics.FragmentsSent.Inc()
		}
	}
}

// Close ends the queue. Pending fragments are still delivered before the
// consumer returns ErrStreamerClosed.
func (s *Streamer) Close() {
	close(s.queue)
}
