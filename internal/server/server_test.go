package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicegate-lab/internal/audio"
	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/intent"
	"github.com/voicegate-lab/internal/providers"
	"github.com/voicegate-lab/internal/session"
	"github.com/voicegate-lab/internal/worker"
	"github.com/voicegate-lab/llm"
)

type fakeSTT struct{ text string }

func (f *fakeSTT) Recognize(ctx context.Context, wav []byte, sessionID string) (string, error) {
	return f.text, nil
}

type fakeTTS struct{}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	pcm := make([]int16, 960)
	return audio.BuildWAV(audio.PCMToBytes(pcm), 16000, 1, 16), nil
}
func (f *fakeTTS) VoiceID() string { return "default" }

type failingTTS struct{}

func (f *failingTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return nil, errors.New("synthesis backend down")
}
func (f *failingTTS) VoiceID() string { return "default" }

type fakeClassifier struct{ raw json.RawMessage }

func (f *fakeClassifier) Detect(ctx context.Context, history []session.DialogueMessage, text string) (json.RawMessage, error) {
	return f.raw, nil
}

func newTestServer(t *testing.T, classifier *fakeClassifier, tools *intent.ToolRegistry) (*httptest.Server, string) {
	return newTestServerFull(t, nil, classifier, tools, &fakeTTS{})
}

func newTestServerWithTTS(t *testing.T, classifier *fakeClassifier, tools *intent.ToolRegistry, tts providers.TextToSpeech) (*httptest.Server, string) {
	return newTestServerFull(t, nil, classifier, tools, tts)
}

func newTestServerFull(t *testing.T, cfg *config.Config, classifier *fakeClassifier, tools *intent.ToolRegistry, tts providers.TextToSpeech) (*httptest.Server, string) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	pool := worker.New(2, 8)
	t.Cleanup(pool.Close)
	if tools == nil {
		tools = intent.NewToolRegistry()
	}
	router := intent.NewRouter(cfg, classifier, tools, nil, tts, pool)
	srv, err := New(cfg, Deps{
		STT:    &fakeSTT{},
		TTS:    tts,
		Router: router,
		Engine: NewDialogueEngine(llm.NewClientFromEnv()),
		Pool:   pool,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	for {
		msgType, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if msgType != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func TestHelloNegotiation(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{
		"type": "hello", "version": 1, "transport": "websocket",
		"audio_params": map[string]any{"format": "opus", "sample_rate": 16000, "channels": 1, "frame_duration": 60},
	})
	reply := readJSON(t, ws)
	assert.Equal(t, "hello", reply["type"])
	assert.NotEmpty(t, reply["session_id"])
	params, ok := reply["audio_params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "opus", params["format"])
	assert.EqualValues(t, 16000, params["sample_rate"])
	assert.EqualValues(t, 60, params["frame_duration"])
}

func TestHelloWithoutAudioParamsRejected(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "hello"})
	reply := readJSON(t, ws)
	assert.Equal(t, "error", reply["type"])
}

func TestUnknownMessageTypeAcknowledged(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "bogus"})
	reply := readJSON(t, ws)
	assert.Equal(t, "error", reply["type"])
	assert.Contains(t, reply["message"], "bogus")

	// Session survives the unknown type.
	sendJSON(t, ws, map[string]any{
		"type":         "hello",
		"audio_params": map[string]any{"format": "opus", "sample_rate": 16000, "channels": 1, "frame_duration": 60},
	})
	reply = readJSON(t, ws)
	assert.Equal(t, "hello", reply["type"])
}

func TestSpeakDirectSynthesis(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "speak", "text": "Hello there.", "id": "corr-7"})

	var states []string
	var sawBinary bool
	var startID, stopID string
	for {
		msgType, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.BinaryMessage {
			sawBinary = true
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] != "tts" {
			continue
		}
		state, _ := m["state"].(string)
		states = append(states, state)
		switch state {
		case "start":
			startID, _ = m["id"].(string)
		case "stop":
			stopID, _ = m["id"].(string)
		}
		if state == "stop" {
			break
		}
	}
	assert.Equal(t, "start", states[0])
	assert.Equal(t, "stop", states[len(states)-1])
	assert.Contains(t, states, "sentence_start")
	assert.True(t, sawBinary, "expected synthesized audio frames")
	assert.Equal(t, "corr-7", startID)
	assert.Equal(t, "corr-7", stopID)
}

func TestSpeakWithoutTextIsError(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "speak"})
	reply := readJSON(t, ws)
	assert.Equal(t, "error", reply["type"])
}

func TestListenDetectRoutesLiteralText(t *testing.T) {
	tools := intent.NewToolRegistry()
	tools.Register("get_time", func(ctx context.Context, args json.RawMessage) (intent.ToolResult, error) {
		return intent.ToolResult{Action: intent.ActionRespond, Payload: "It is noon."}, nil
	})
	fc := json.RawMessage(`{"function_call": "get_time", "arguments": {}}`)
	_, url := newTestServer(t, &fakeClassifier{raw: fc}, tools)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "listen", "state": "detect", "text": "what time is it"})

	reply := readJSON(t, ws)
	assert.Equal(t, "tts", reply["type"])
	assert.Equal(t, "start", reply["state"])
	assert.Equal(t, "It is noon.", reply["text"])
}

func TestListenStartUnknownModeIsError(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "listen", "state": "start", "mode": "psychic"})
	reply := readJSON(t, ws)
	assert.Equal(t, "error", reply["type"])
}

func TestSplitSentencesInDelivery(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "speak", "text": "One. Two! Three?"})

	var sentences []string
	for {
		msgType, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if msgType != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] != "tts" {
			continue
		}
		if m["state"] == "sentence_start" {
			if text, _ := m["text"].(string); text != "" {
				sentences = append(sentences, text)
			}
		}
		if m["state"] == "stop" {
			break
		}
	}
	assert.Equal(t, []string{"One.", "Two!", "Three?"}, sentences)
}

func TestRawFunctionCallModeSkipsClassifier(t *testing.T) {
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"The model answers."}}]}`))
	}))
	t.Cleanup(llmSrv.Close)
	t.Setenv("OPENAI_BASE_URL", llmSrv.URL+"/v1")

	cfg := config.Default()
	cfg.Session.RawFunctionCall = true
	tools := intent.NewToolRegistry()
	tools.Register("get_time", func(ctx context.Context, args json.RawMessage) (intent.ToolResult, error) {
		return intent.ToolResult{Action: intent.ActionRespond, Payload: "It is noon."}, nil
	})
	fc := json.RawMessage(`{"function_call": "get_time", "arguments": {}}`)
	_, url := newTestServerFull(t, cfg, &fakeClassifier{raw: fc}, tools, &fakeTTS{})
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "listen", "state": "detect", "text": "what time is it"})

	reply := readJSON(t, ws)
	assert.Equal(t, "tts", reply["type"])
	assert.Equal(t, "start", reply["state"])
	assert.Equal(t, "The model answers.", reply["text"])
}

func TestExitClosesConnectionAfterFarewell(t *testing.T) {
	_, url := newTestServer(t, &fakeClassifier{}, nil)
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "listen", "state": "detect", "text": "goodbye"})

	sawClose, closed := drainUntilClose(t, ws)
	assert.True(t, sawClose, "expected a close notice after the farewell")
	assert.True(t, closed, "expected the server to drop the connection")
}

func TestExitClosesConnectionWhenFarewellSynthesisFails(t *testing.T) {
	_, url := newTestServerWithTTS(t, &fakeClassifier{}, nil, &failingTTS{})
	ws := dial(t, url)

	sendJSON(t, ws, map[string]any{"type": "listen", "state": "detect", "text": "goodbye"})

	sawClose, closed := drainUntilClose(t, ws)
	assert.True(t, sawClose, "expected a close notice even though the farewell never played")
	assert.True(t, closed, "expected the server to drop the connection")
}

// drainUntilClose reads until the server drops the connection, reporting
// whether a server close notice was seen along the way.
func drainUntilClose(t *testing.T, ws *websocket.Conn) (sawClose, closed bool) {
	t.Helper()
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return sawClose, true
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == "server" && m["action"] == "close" {
			sawClose = true
		}
	}
}
