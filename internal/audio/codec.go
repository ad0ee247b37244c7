package audio

import (
	"errors"
	"fmt"

	"github.com/hraban/opus"
)

// ErrDecode marks a malformed or corrupt inbound frame. Callers drop the
// frame and keep the stream alive.
var ErrDecode = errors.New("audio decode error")

// Codec converts compressed opus frames to and from 16-bit linear PCM at a
// fixed sample rate. Each call is independent apart from the opus
// encoder/decoder continuity state, so a Codec must not be shared across
// sessions.
type Codec struct {
	dec          *opus.Decoder
	enc          *opus.Encoder
	sampleRate   int
	channels     int
	frameSamples int
}

// NewCodec creates a duplex codec. frameSamples is the PCM length of one
// frame (sampleRate * frameDuration).
func NewCodec(sampleRate, channels, frameSamples int) (*Codec, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &Codec{
		dec:          dec,
		enc:          enc,
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: frameSamples,
	}, nil
}

func (c *Codec) SampleRate() int   { return c.sampleRate }
func (c *Codec) FrameSamples() int { return c.frameSamples }

// Decode converts one compressed frame to PCM samples.
func (c *Codec) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	pcm := make([]int16, c.frameSamples)
	n, err := c.dec.Decode(frame, pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return pcm[:n*c.channels], nil
}

// Encode compresses one frame of PCM samples. Short final frames are padded
// with silence to the fixed frame size the encoder expects.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("encode: empty pcm")
	}
	if len(pcm) < c.frameSamples*c.channels {
		padded := make([]int16, c.frameSamples*c.channels)
		copy(padded, pcm)
		pcm = padded
	}
	// 1275 is the maximum opus frame size.
	out := make([]byte, 1275)
	n, err := c.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}
