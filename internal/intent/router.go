package intent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/providers"
	"github.com/voicegate-lab/internal/session"
	"github.com/voicegate-lab/internal/speech"
	"github.com/voicegate-lab/internal/worker"
)

// OutcomeKind classifies what a routed transcript asks for.
type OutcomeKind int

const (
	OutcomeNone     OutcomeKind = iota // nothing actionable, stay listening
	OutcomeExit                        // exit command, speak farewell then close
	OutcomeWake                        // bare wake word, play cached greeting
	OutcomeTool                        // function call dispatched, speak payload literally
	OutcomeFollowup                    // tool wants its output fed back through the model
	OutcomeChat                        // open dialogue with the model
)

// Outcome is the router's decision for one recognized turn.
type Outcome struct {
	Kind  OutcomeKind
	Text  string // what to speak (farewell, greeting, tool payload) or the chat prompt
	Tool  string // tool name, set for OutcomeFollowup
	Audio []byte // pre-synthesized greeting audio, when cached
}

const justWokenWindow = 8 * time.Second

// Router applies the turn precedence order: exit commands beat wake words,
// wake words beat function-call classification, and anything left is open
// dialogue. Exit matching is exact on the normalized transcript so "quit
// complaining" is not a farewell.
type Router struct {
	exit       map[string]struct{}
	wake       *WakeDetector
	cache      *speech.WakeCache
	classifier providers.IntentClassifier
	tools      *ToolRegistry
	tts        providers.TextToSpeech
	pool       *worker.Pool

	greeting string
	farewell string
}

func NewRouter(cfg *config.Config, classifier providers.IntentClassifier, tools *ToolRegistry, cache *speech.WakeCache, tts providers.TextToSpeech, pool *worker.Pool) *Router {
	exit := make(map[string]struct{}, len(cfg.Exit.Commands))
	for _, c := range cfg.Exit.Commands {
		exit[Normalize(c)] = struct{}{}
	}
	return &Router{
		exit:       exit,
		wake:       NewWakeDetector(cfg.Wake.Phrases, cfg.Wake.WindowS),
		cache:      cache,
		classifier: classifier,
		tools:      tools,
		tts:        tts,
		pool:       pool,
		greeting:   "I'm here.",
		farewell:   "Goodbye.",
	}
}

// Route decides what one recognized transcript means for the session.
func (r *Router) Route(ctx context.Context, sess *session.Session, transcript string) Outcome {
	norm := Normalize(transcript)
	if norm == "" {
		return Outcome{Kind: OutcomeNone}
	}

	if _, ok := r.exit[norm]; ok {
		sess.MarkCloseAfterChat()
		logging.Infow("router: exit command", "session_id", sess.ID)
		return Outcome{Kind: OutcomeExit, Text: r.farewell}
	}

	text := transcript
	if matched, stripped := r.wake.Detect(transcript); matched && !sess.JustWoken() {
		sess.MarkJustWoken(justWokenWindow)
		if stripped == "" {
			return r.wakeOutcome(sess)
		}
		// Wake word plus a command: answer the command directly.
		text = stripped
	}

	if sess.RawFunctionCall() {
		// Raw mode trusts the model to emit tool calls itself.
		return Outcome{Kind: OutcomeChat, Text: text}
	}

	raw, err := r.classifier.Detect(ctx, sess.History(), text)
	if err != nil {
		logging.Warnw("router: intent classification degraded to chat", "session_id", sess.ID, "error", err)
		return Outcome{Kind: OutcomeChat, Text: text}
	}
	if raw == nil {
		return Outcome{Kind: OutcomeChat, Text: text}
	}

	var fc providers.FunctionCall
	if err := json.Unmarshal(raw, &fc); err != nil || fc.Name == "" {
		return Outcome{Kind: OutcomeChat, Text: text}
	}

	// Tool execution is blocking work and goes through the shared pool
	// like recognition and synthesis do.
	var res ToolResult
	if err := r.pool.Do(ctx, func(ctx context.Context) error {
		res = r.tools.Invoke(ctx, fc.Name, fc.Arguments)
		return nil
	}); err != nil {
		logging.Errorw("router: tool dispatch failed", "session_id", sess.ID, "tool", fc.Name, "error", err)
		return Outcome{Kind: OutcomeTool, Text: "Sorry, that didn't work."}
	}
	logging.Infow("router: function call dispatched", "session_id", sess.ID, "tool", fc.Name, "action", int(res.Action))
	switch res.Action {
	case ActionNotFound:
		// Let the model answer instead of apologizing for a phantom tool.
		return Outcome{Kind: OutcomeChat, Text: text}
	case ActionRequestFollowup:
		// The payload is raw tool output, not speakable text; the model
		// turns it into the reply.
		return Outcome{Kind: OutcomeFollowup, Tool: fc.Name, Text: res.Payload}
	default:
		return Outcome{Kind: OutcomeTool, Text: res.Payload}
	}
}

// wakeOutcome serves the greeting from cache when possible and schedules a
// background refresh for stale entries. Cache misses fall back to plain
// greeting text for the normal synthesis path.
func (r *Router) wakeOutcome(sess *session.Session) Outcome {
	logging.Infow("router: wake word", "session_id", sess.ID)
	if r.cache == nil {
		return Outcome{Kind: OutcomeWake, Text: r.greeting}
	}
	audio, found, stale := r.cache.Get(r.greeting)
	if !found || stale {
		r.cache.RefreshAsync(r.greeting, func(ctx context.Context) ([]byte, error) {
			return r.tts.Synthesize(ctx, r.greeting)
		})
	}
	if !found {
		return Outcome{Kind: OutcomeWake, Text: r.greeting}
	}
	return Outcome{Kind: OutcomeWake, Text: r.greeting, Audio: audio}
}
