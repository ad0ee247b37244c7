// Package providers defines the interfaces the pipeline consumes for
// speech-to-text, text-to-speech, speaker identification, and intent
// classification, together with an explicit name->factory registry and HTTP
// implementations. Engines themselves (model loading, inference) live behind
// these service boundaries.
package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/voicegate-lab/internal/session"
)

var (
	// ErrRecognition covers provider-side speech recognition failures.
	ErrRecognition = errors.New("recognition error")
	// ErrRecognitionTimeout marks a recognition task that exceeded its budget.
	ErrRecognitionTimeout = errors.New("recognition timeout")
	// ErrSynthesis covers provider-side text-to-speech failures.
	ErrSynthesis = errors.New("synthesis error")
)

// SpeechToText transcribes a complete utterance.
type SpeechToText interface {
	Recognize(ctx context.Context, wav []byte, sessionID string) (string, error)
}

// TextToSpeech renders text into playable audio. VoiceID keys the
// wake-response cache so cached greetings are invalidated on voice change.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	VoiceID() string
}

// VoicePrintIdentifier attributes an utterance to a known speaker. A miss is
// ("", 0, nil), never an error.
type VoicePrintIdentifier interface {
	Identify(ctx context.Context, wav []byte, sessionID string) (label string, confidence float64, err error)
}

// IntentClassifier inspects a transcript in dialogue context and returns a
// JSON function-call shape, or nil when the utterance is open dialogue.
type IntentClassifier interface {
	Detect(ctx context.Context, history []session.DialogueMessage, text string) (json.RawMessage, error)
}

// FunctionCall is the parsed shape of a classifier or raw-mode result.
type FunctionCall struct {
	Name      string          `json:"function_call,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
