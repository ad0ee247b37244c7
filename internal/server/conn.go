package server

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/voicegate-lab/internal/audio"
	"github.com/voicegate-lab/internal/intent"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/metrics"
	"github.com/voicegate-lab/internal/pipeline"
	"github.com/voicegate-lab/internal/session"
	"github.com/voicegate-lab/internal/speech"
	"github.com/voicegate-lab/internal/vad"
)

const apologyText = "Sorry, I ran into a problem saying that."

// Conn owns one websocket connection end to end: the read loop is the
// session's single orchestration goroutine, a second goroutine drains the
// fragment streamer, and everything blocking runs on the shared worker pool.
type Conn struct {
	ws   *websocket.Conn
	srv  *Server
	sess *session.Session

	codec    *audio.Codec
	detector *vad.Detector
	acc      *pipeline.Accumulator
	streamer *speech.Streamer
	pacer    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	turnMu       sync.Mutex
	turnInFlight bool

	corrMu sync.Mutex
	corr   map[string]string
}

func newConn(srv *Server, ws *websocket.Conn, sess *session.Session) (*Conn, error) {
	cfg := srv.cfg
	codec, err := audio.NewCodec(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameSamples())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	frameDur := time.Duration(cfg.Audio.FrameDurationMs) * time.Millisecond
	return &Conn{
		ws:    ws,
		srv:   srv,
		sess:  sess,
		codec: codec,
		detector: vad.NewDetector(srv.scorer, vad.Options{
			HighThreshold:   cfg.VAD.HighThreshold,
			LowThreshold:    cfg.VAD.LowThreshold,
			BlockSamples:    cfg.VAD.BlockSamples,
			WindowBlocks:    cfg.VAD.WindowBlocks,
			WindowVoicedMin: cfg.VAD.WindowVoicedMin,
			SilenceTimeout:  time.Duration(cfg.VAD.SilenceTimeoutMs) * time.Millisecond,
		}),
		acc:      pipeline.NewAccumulator(cfg.Accumulator),
		streamer: speech.NewStreamer(sess, 64, 0),
		pacer:    rate.NewLimiter(rate.Every(frameDur), 8),
		ctx:      ctx,
		cancel:   cancel,
		corr:     make(map[string]string),
	}, nil
}

// run drives the connection until disconnect. Caller goroutine becomes the
// read loop.
func (c *Conn) run() {
	defer c.teardown()
	go c.sendLoop()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logging.Infow("server: connection closed", "session_id", c.sess.ID, "error", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			c.sess.Touch()
			c.dispatch(data)
		}
	}
}

func (c *Conn) handleAudio(frame []byte) {
	c.sess.Touch()
	pcm, err := c.codec.Decode(frame)
	if err != nil {
		// Corrupt frames are dropped; the stream continues.
		metrics.DecodeErrors.Inc()
		logging.Debugw("server: dropped undecodable frame", "session_id", c.sess.ID, "error", err)
		return
	}
	metrics.FramesDecoded.Inc()

	voice := c.detector.Classify(pcm)

	// Barge-in: voice while the assistant is speaking interrupts it,
	// except in manual mode where the client owns the boundaries.
	if voice && c.sess.Speaking() && c.sess.Mode() != session.ModeManual {
		if id := c.sess.Abort(); id != "" {
			metrics.Aborts.Inc()
			logging.Infow("server: barge-in abort", "session_id", c.sess.ID, "utterance_id", id)
			c.writeJSON(ttsMessage{Type: "tts", State: "stop", SessionID: c.sess.ID})
			c.maybeCloseAfterChat()
		}
	}

	if c.sess.State() == session.StateIdle && c.sess.Mode() != session.ModeManual {
		c.sess.StartListening()
	}
	if c.sess.State() != session.StateListening {
		return
	}

	c.acc.Append(pcm, voice)
	if c.detector.TurnEnded() || c.acc.Full() {
		c.endTurn()
	}
}

// endTurn flushes the accumulated utterance and hands it to recognition.
// Only one turn is processed at a time; a flush landing while the previous
// turn is still in recognition is dropped.
func (c *Conn) endTurn() {
	c.detector.EndTurn()
	pcm := c.acc.Flush()
	if pcm == nil {
		return
	}
	c.turnMu.Lock()
	if c.turnInFlight {
		c.turnMu.Unlock()
		logging.Warnw("server: turn dropped, previous still in flight", "session_id", c.sess.ID)
		metrics.TurnsDiscarded.Inc()
		return
	}
	c.turnInFlight = true
	c.turnMu.Unlock()

	go func() {
		defer func() {
			c.turnMu.Lock()
			c.turnInFlight = false
			c.turnMu.Unlock()
		}()
		c.processTurn(pcm)
	}()
}

func (c *Conn) processTurn(pcm []int16) {
	res, err := c.srv.orchestrator.Recognize(c.ctx, pcm, c.sess.ID)
	if err != nil {
		return
	}
	if res.Empty() {
		logging.Debugw("server: empty transcript, no action", "session_id", c.sess.ID)
		return
	}
	c.writeJSON(sttMessage{Type: "stt", SessionID: c.sess.ID, Text: res.Transcript, Speaker: res.SpeakerLabel})
	c.routeText(res.Transcript)
}

func (c *Conn) routeText(text string) {
	out := c.srv.router.Route(c.ctx, c.sess, text)
	switch out.Kind {
	case intent.OutcomeNone:
	case intent.OutcomeExit, intent.OutcomeTool:
		c.speak(out.Text, "", nil)
	case intent.OutcomeWake:
		c.speak(out.Text, "", out.Audio)
	case intent.OutcomeFollowup:
		reply, err := c.srv.engine.FollowUp(c.ctx, c.sess, out.Tool, out.Text)
		if err != nil {
			logging.Errorw("server: tool followup failed", "session_id", c.sess.ID, "tool", out.Tool, "error", err)
			c.speak(apologyText, "", nil)
			return
		}
		if reply != "" {
			c.speak(reply, "", nil)
		}
	case intent.OutcomeChat:
		reply, err := c.srv.engine.Chat(c.ctx, c.sess, out.Text)
		if err != nil {
			logging.Errorw("server: dialogue failed", "session_id", c.sess.ID, "error", err)
			c.speak(apologyText, "", nil)
			return
		}
		if reply != "" {
			c.speak(reply, "", nil)
		}
	}
}

// speak opens an utterance and feeds it through the fragment streamer.
// preAudio short-circuits synthesis (cached wake greetings).
func (c *Conn) speak(text, correlationID string, preAudio []byte) {
	utteranceID, uctx := c.sess.StartSpeaking(c.ctx)
	if correlationID != "" {
		c.corrMu.Lock()
		c.corr[utteranceID] = correlationID
		c.corrMu.Unlock()
	}
	if err := c.streamer.Begin(uctx, utteranceID, text); err != nil {
		return
	}
	if preAudio != nil {
		if err := c.streamer.Audio(uctx, utteranceID, preAudio); err != nil {
			return
		}
	} else {
		for _, sentence := range speech.SplitSentences(text) {
			if err := c.streamer.Text(uctx, utteranceID, sentence); err != nil {
				return
			}
		}
	}
	_ = c.streamer.End(uctx, utteranceID)
}

// sendLoop is the fragment consumer: it synthesizes, encodes, paces, and
// writes assistant output.
func (c *Conn) sendLoop() {
	err := c.streamer.Consume(c.ctx, c.deliver)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, speech.ErrStreamerClosed) {
		logging.Debugw("server: send loop ended", "session_id", c.sess.ID, "error", err)
	}
}

func (c *Conn) deliver(f speech.Fragment) error {
	switch f.Position {
	case speech.First:
		return c.writeJSON(ttsMessage{Type: "tts", State: "start", SessionID: c.sess.ID, Text: f.Text, ID: c.correlation(f.UtteranceID)})
	case speech.Last:
		err := c.writeJSON(ttsMessage{Type: "tts", State: "stop", SessionID: c.sess.ID, ID: c.correlation(f.UtteranceID)})
		c.clearCorrelation(f.UtteranceID)
		c.sess.FinishSpeaking(f.UtteranceID)
		c.maybeCloseAfterChat()
		return err
	}

	// Middle fragment.
	audioBytes := f.Audio
	if f.Kind == speech.KindText {
		var synthesized []byte
		err := c.srv.pool.Do(c.ctx, func(ctx context.Context) error {
			b, err := c.srv.tts.Synthesize(ctx, f.Text)
			synthesized = b
			return err
		})
		if err != nil {
			// Unblock playback with an immediate boundary and apologize.
			logging.Errorw("server: synthesis failed", "session_id", c.sess.ID, "error", err)
			c.sess.Abort()
			c.writeJSON(ttsMessage{Type: "tts", State: "sentence_start", SessionID: c.sess.ID, Text: apologyText})
			c.writeJSON(ttsMessage{Type: "tts", State: "stop", SessionID: c.sess.ID})
			c.maybeCloseAfterChat()
			return nil
		}
		audioBytes = synthesized
	}
	if err := c.writeJSON(ttsMessage{Type: "tts", State: "sentence_start", SessionID: c.sess.ID, Text: f.Text}); err != nil {
		return err
	}
	return c.sendAudio(audioBytes)
}

// sendAudio re-encodes WAV/PCM bytes as paced opus frames.
func (c *Conn) sendAudio(data []byte) error {
	pcm := audio.BytesToPCM(stripWAVHeader(data))
	frame := c.codec.FrameSamples()
	for off := 0; off < len(pcm); off += frame {
		end := off + frame
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := c.pacer.Wait(c.ctx); err != nil {
			return err
		}
		encoded, err := c.codec.Encode(pcm[off:end])
		if err != nil {
			logging.Warnw("server: encode failed", "session_id", c.sess.ID, "error", err)
			return nil
		}
		if err := c.writeBinary(encoded); err != nil {
			return err
		}
	}
	return nil
}

func stripWAVHeader(data []byte) []byte {
	if len(data) > 44 && bytes.HasPrefix(data, []byte("RIFF")) {
		return data[44:]
	}
	return data
}

func (c *Conn) correlation(utteranceID string) string {
	c.corrMu.Lock()
	defer c.corrMu.Unlock()
	return c.corr[utteranceID]
}

func (c *Conn) clearCorrelation(utteranceID string) {
	c.corrMu.Lock()
	defer c.corrMu.Unlock()
	delete(c.corr, utteranceID)
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Conn) writeBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// maybeCloseAfterChat honors a pending exit once the farewell utterance is
// out of the way, however it ended: delivered, aborted, or failed in
// synthesis.
func (c *Conn) maybeCloseAfterChat() {
	if !c.sess.CloseAfterChat() {
		return
	}
	c.writeJSON(serverMessage{Type: "server", SessionID: c.sess.ID, Action: "close", Message: "goodbye"})
	c.close("exit command")
}

// close ends the connection deliberately (exit command, idle reaper, bad
// hello).
func (c *Conn) close(reason string) {
	logging.Infow("server: closing connection", "session_id", c.sess.ID, "reason", reason)
	c.cancel()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(time.Second))
	_ = c.ws.Close()
}

func (c *Conn) teardown() {
	c.cancel()
	c.sess.Close()
	_ = c.ws.Close()
	c.srv.dropConn(c)
	metrics.SessionsActive.Dec()
	logging.Infow("server: session ended", logging.SessionFields(c.sess.ID, c.sess.DeviceID)...)
}
