package server

import "encoding/json"

// AudioParams is the negotiated audio format carried on hello messages.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// ClientMessage is the union of all inbound control message shapes. Type
// selects which fields are meaningful; unknown types are acknowledged with
// an error and the session keeps running.
type ClientMessage struct {
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`

	// hello
	Transport   string       `json:"transport,omitempty"`
	DeviceID    string       `json:"device_id,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`

	// listen: state start|stop|detect, optional mode and literal text
	State string `json:"state,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Text  string `json:"text,omitempty"`

	// abort
	Reason string `json:"reason,omitempty"`

	// speak / correlation echo
	ID string `json:"id,omitempty"`

	// iot / mcp / server passthrough
	Payload json.RawMessage `json:"payload,omitempty"`
}

// helloReply answers a client hello with the server's session id and the
// audio format it will actually speak.
type helloReply struct {
	Type        string      `json:"type"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
}

// sttMessage echoes the recognized transcript back to the client.
type sttMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Speaker   string `json:"speaker,omitempty"`
}

// ttsMessage brackets synthesized audio: state start, sentence_start per
// fragment, stop at the utterance boundary.
type ttsMessage struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
}

// errorMessage acknowledges a malformed or unknown control message.
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// serverMessage carries server-initiated notices (idle close, goodbye).
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Message   string `json:"message,omitempty"`
}
