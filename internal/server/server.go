package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/intent"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/metrics"
	"github.com/voicegate-lab/internal/pipeline"
	"github.com/voicegate-lab/internal/providers"
	"github.com/voicegate-lab/internal/session"
	"github.com/voicegate-lab/internal/vad"
	"github.com/voicegate-lab/internal/worker"
)

// Deps bundles the provider instances the server wires into each
// connection. Everything here is shared and must be safe for concurrent
// use.
type Deps struct {
	STT        providers.SpeechToText
	TTS        providers.TextToSpeech
	Voiceprint providers.VoicePrintIdentifier
	Router     *intent.Router
	Engine     *DialogueEngine
	Pool       *worker.Pool
}

// Server upgrades websocket connections into voice sessions.
type Server struct {
	cfg          *config.Config
	upgrader     websocket.Upgrader
	scorer       vad.Scorer
	orchestrator *pipeline.Orchestrator
	router       *intent.Router
	engine       *DialogueEngine
	tts          providers.TextToSpeech
	pool         *worker.Pool

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	scorer, err := vad.NewScorer(cfg.VAD.Provider)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		scorer:       scorer,
		orchestrator: pipeline.NewOrchestrator(deps.STT, deps.Voiceprint, deps.Pool, cfg.Audio, cfg.Recognition),
		router:       deps.Router,
		engine:       deps.Engine,
		tts:          deps.TTS,
		pool:         deps.Pool,
		conns:        make(map[*Conn]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and runs the connection until disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("server: upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	deviceID := r.Header.Get("Device-Id")
	if deviceID == "" {
		deviceID = r.URL.Query().Get("device_id")
	}
	sess := session.New("", deviceID, session.ListenMode(s.cfg.Session.DefaultListenMode))
	sess.SetRawFunctionCall(s.cfg.Session.RawFunctionCall)
	conn, err := newConn(s, ws, sess)
	if err != nil {
		logging.Errorw("server: connection setup failed", "error", err)
		_ = ws.Close()
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	metrics.SessionsActive.Inc()
	logging.Infow("server: session started", "session_id", sess.ID, "device_id", deviceID, "remote", r.RemoteAddr)

	conn.run()
}

// Run reaps idle sessions until ctx dies, then closes everything.
func (s *Server) Run(ctx context.Context) {
	idle := time.Duration(s.cfg.Session.IdleTimeoutS) * time.Second
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll("server shutting down")
			return
		case <-ticker.C:
			if idle <= 0 {
				continue
			}
			for _, c := range s.snapshot() {
				if c.sess.IdleFor() > idle {
					c.writeJSON(serverMessage{Type: "server", SessionID: c.sess.ID, Action: "close", Message: "session idle"})
					c.close("idle timeout")
				}
			}
		}
	}
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) closeAll(reason string) {
	for _, c := range s.snapshot() {
		c.close(reason)
	}
}

func (s *Server) dropConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
