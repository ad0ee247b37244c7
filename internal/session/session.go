package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voicegate-lab/internal/logging"
)

// ListenMode controls how turn boundaries are decided for a session.
type ListenMode string

const (
	ModeAuto     ListenMode = "auto"     // server-side VAD decides turn ends
	ModeManual   ListenMode = "manual"   // client sends listen stop explicitly
	ModeRealtime ListenMode = "realtime" // continuous duplex, barge-in always on
)

// State is the session turn-taking state machine.
type State int

const (
	StateIdle State = iota
	StateListening
	StateSpeaking
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// Role values for DialogueMessage.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// DialogueMessage is one append-only entry of the per-session model context.
type DialogueMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Session is the per-connection aggregate. State transitions happen on the
// connection's orchestration goroutine; the mutex exists because the
// fragment consumer and background workers read flags concurrently.
type Session struct {
	ID       string
	DeviceID string

	mu              sync.Mutex
	state           State
	mode            ListenMode
	lastActivity    time.Time
	justWokenUntil  time.Time
	closeAfterChat  bool
	rawFunctionCall bool

	history []DialogueMessage

	currentUtterance string
	utteranceCancel  context.CancelFunc
	aborted          map[string]struct{}
	abortedOrder     []string
}

// maxAbortedTracked bounds the aborted-id set; once an id ages out its late
// fragments have long since drained from the streamer queue.
const maxAbortedTracked = 32

func New(id, deviceID string, mode ListenMode) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:           id,
		DeviceID:     deviceID,
		state:        StateIdle,
		mode:         mode,
		lastActivity: time.Now(),
		aborted:      make(map[string]struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Mode() ListenMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) SetMode(m ListenMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// Touch updates the last-activity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// StartListening transitions IDLE -> LISTENING. A no-op while speaking; the
// caller decides whether that constitutes barge-in first.
func (s *Session) StartListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateListening
		s.lastActivity = time.Now()
	}
}

// StartSpeaking transitions to SPEAKING and opens a new cancellable
// utterance scope. It returns the utterance id and a context that workers
// must check before producing each fragment. An utterance still in flight
// is superseded: aborted and recorded so its late fragments get filtered,
// keeping exactly one abortable utterance current at all times.
func (s *Session) StartSpeaking(parent context.Context) (string, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSpeaking && s.currentUtterance != "" {
		s.recordAborted(s.currentUtterance)
		if s.utteranceCancel != nil {
			s.utteranceCancel()
		}
		logging.Infow("session: utterance superseded", "session_id", s.ID, "utterance_id", s.currentUtterance)
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	s.currentUtterance = id
	s.utteranceCancel = cancel
	s.state = StateSpeaking
	s.lastActivity = time.Now()
	return id, ctx
}

// FinishSpeaking transitions SPEAKING -> IDLE when the given utterance is
// still the current one. Stale completions (already aborted or superseded)
// are ignored.
func (s *Session) FinishSpeaking(utteranceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUtterance != utteranceID {
		return
	}
	if s.utteranceCancel != nil {
		s.utteranceCancel()
		s.utteranceCancel = nil
	}
	s.currentUtterance = ""
	s.state = StateIdle
	s.lastActivity = time.Now()
}

// Abort interrupts the current utterance: cancels its context so in-flight
// workers stop producing, records the id so late fragments are filtered at
// the consumer boundary, and settles back to IDLE. Returns the aborted
// utterance id, or "" when nothing was in flight.
func (s *Session) Abort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSpeaking || s.currentUtterance == "" {
		return ""
	}
	s.state = StateAborting
	id := s.currentUtterance
	s.recordAborted(id)
	if s.utteranceCancel != nil {
		s.utteranceCancel()
		s.utteranceCancel = nil
	}
	s.currentUtterance = ""
	s.state = StateIdle
	s.lastActivity = time.Now()
	logging.Infow("session: utterance aborted", "session_id", s.ID, "utterance_id", id)
	return id
}

// recordAborted tracks an aborted id with FIFO eviction. Caller holds mu.
func (s *Session) recordAborted(id string) {
	if _, ok := s.aborted[id]; ok {
		return
	}
	s.aborted[id] = struct{}{}
	s.abortedOrder = append(s.abortedOrder, id)
	for len(s.abortedOrder) > maxAbortedTracked {
		delete(s.aborted, s.abortedOrder[0])
		s.abortedOrder = s.abortedOrder[1:]
	}
}

// IsAborted reports whether fragments for the given utterance must be
// dropped. Checked by the fragment consumer before every delivery.
func (s *Session) IsAborted(utteranceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.aborted[utteranceID]
	return ok
}

// Speaking reports whether assistant output is currently in flight.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSpeaking
}

// MarkJustWoken suppresses re-triggering the wake path for the given window
// after a wake-word reply.
func (s *Session) MarkJustWoken(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.justWokenUntil = time.Now().Add(d)
}

func (s *Session) JustWoken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.justWokenUntil)
}

// MarkCloseAfterChat schedules the session to close once the current
// utterance finishes playing (exit-command path).
func (s *Session) MarkCloseAfterChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeAfterChat = true
}

func (s *Session) CloseAfterChat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAfterChat
}

// SetRawFunctionCall puts the session in raw function-calling mode where
// intent classification is skipped entirely.
func (s *Session) SetRawFunctionCall(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawFunctionCall = v
}

func (s *Session) RawFunctionCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawFunctionCall
}

// Append adds a message to the dialogue history.
func (s *Session) Append(msg DialogueMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

// History returns a copy of the dialogue history for building model context.
func (s *Session) History() []DialogueMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DialogueMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Close cancels any in-flight utterance scope. Called on disconnect.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utteranceCancel != nil {
		s.utteranceCancel()
		s.utteranceCancel = nil
	}
	s.state = StateIdle
}
