package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/metrics"
	"github.com/voicegate-lab/internal/session"
)

// handlerFunc processes one typed control message on the connection's
// orchestration goroutine.
type handlerFunc func(c *Conn, msg *ClientMessage) error

// handlers is the dispatch table keyed by message type. Unknown types get
// an error acknowledgment, never a teardown.
var handlers = map[string]handlerFunc{
	"hello":  handleHello,
	"listen": handleListen,
	"abort":  handleAbort,
	"speak":  handleSpeak,
	"iot":    handleIoT,
	"mcp":    handleMCP,
	"server": handleServer,
}

func (c *Conn) dispatch(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.writeJSON(errorMessage{Type: "error", Message: "malformed control message"})
		return
	}
	h, ok := handlers[msg.Type]
	if !ok {
		logging.Warnw("server: unknown message type", "session_id", c.sess.ID, "type", msg.Type)
		c.writeJSON(errorMessage{Type: "error", Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		return
	}
	if err := h(c, &msg); err != nil {
		logging.Errorw("server: handler failed", "session_id", c.sess.ID, "type", msg.Type, "error", err)
		c.writeJSON(errorMessage{Type: "error", Message: fmt.Sprintf("%s: %v", msg.Type, err)})
	}
}

func handleHello(c *Conn, msg *ClientMessage) error {
	if msg.AudioParams == nil {
		c.writeJSON(errorMessage{Type: "error", Message: "hello requires audio_params"})
		c.close("bad hello")
		return nil
	}
	if msg.DeviceID != "" {
		c.sess.DeviceID = msg.DeviceID
	}
	logging.Infow("server: hello",
		"session_id", c.sess.ID,
		"device_id", c.sess.DeviceID,
		"client_format", msg.AudioParams.Format,
		"client_rate", msg.AudioParams.SampleRate)
	return c.writeJSON(helloReply{
		Type:      "hello",
		Transport: "websocket",
		SessionID: c.sess.ID,
		AudioParams: AudioParams{
			Format:        "opus",
			SampleRate:    c.srv.cfg.Audio.SampleRate,
			Channels:      c.srv.cfg.Audio.Channels,
			FrameDuration: c.srv.cfg.Audio.FrameDurationMs,
		},
	})
}

func handleListen(c *Conn, msg *ClientMessage) error {
	switch msg.State {
	case "start":
		switch session.ListenMode(msg.Mode) {
		case session.ModeAuto, session.ModeManual, session.ModeRealtime:
			c.sess.SetMode(session.ListenMode(msg.Mode))
		case "":
		default:
			return fmt.Errorf("unknown listen mode %q", msg.Mode)
		}
		c.sess.StartListening()
		return nil
	case "stop":
		// Manual turn boundary: the client decided the user is done.
		c.endTurn()
		return nil
	case "detect":
		if msg.Text == "" {
			return fmt.Errorf("listen detect requires text")
		}
		// Literal text skips audio and enters routing wake-confirmed.
		c.sess.MarkJustWoken(8 * time.Second)
		go c.routeText(msg.Text)
		return nil
	default:
		return fmt.Errorf("unknown listen state %q", msg.State)
	}
}

func handleAbort(c *Conn, msg *ClientMessage) error {
	if id := c.sess.Abort(); id != "" {
		metrics.Aborts.Inc()
		logging.Infow("server: client abort", "session_id", c.sess.ID, "utterance_id", id, "reason", msg.Reason)
		c.writeJSON(ttsMessage{Type: "tts", State: "stop", SessionID: c.sess.ID})
		c.maybeCloseAfterChat()
	}
	c.acc.Reset()
	c.detector.EndTurn()
	return nil
}

func handleSpeak(c *Conn, msg *ClientMessage) error {
	if msg.Text == "" {
		return fmt.Errorf("speak requires text")
	}
	go c.speak(msg.Text, msg.ID, nil)
	return nil
}

func handleIoT(c *Conn, msg *ClientMessage) error {
	// Descriptor/state updates are routed but out of dialogue scope.
	logging.Debugw("server: iot message", "session_id", c.sess.ID, "payload_len", len(msg.Payload))
	return c.writeJSON(serverMessage{Type: "server", SessionID: c.sess.ID, Action: "iot_ack"})
}

func handleMCP(c *Conn, msg *ClientMessage) error {
	logging.Debugw("server: mcp message", "session_id", c.sess.ID, "payload_len", len(msg.Payload))
	return c.writeJSON(serverMessage{Type: "server", SessionID: c.sess.ID, Action: "mcp_ack"})
}

func handleServer(c *Conn, msg *ClientMessage) error {
	logging.Debugw("server: server message", "session_id", c.sess.ID, "payload_len", len(msg.Payload))
	return nil
}
