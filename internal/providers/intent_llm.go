package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
	"github.com/voicegate-lab/internal/session"
	"github.com/voicegate-lab/llm"
)

const intentSystemPrompt = `You classify the user's latest utterance. If it maps to one of the ` +
	`available tool functions, answer with exactly one JSON object: ` +
	`{"function_call": "<name>", "arguments": {...}}. Otherwise answer with the single word: chat.`

// LLMIntentClassifier asks the chat backend whether an utterance is a
// function call. Anything that is not a parseable function-call object is
// treated as open dialogue.
type LLMIntentClassifier struct {
	client *llm.Client
}

func NewLLMIntentClassifier() *LLMIntentClassifier {
	return &LLMIntentClassifier{client: llm.NewClientFromEnv()}
}

func (c *LLMIntentClassifier) Detect(ctx context.Context, history []session.DialogueMessage, text string) (json.RawMessage, error) {
	messages := []llm.Message{{Role: session.RoleSystem, Content: intentSystemPrompt}}
	// Trailing dialogue context helps disambiguate short follow-ups.
	start := len(history) - 6
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		if m.Role == session.RoleUser || m.Role == session.RoleAssistant {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, llm.Message{Role: session.RoleUser, Content: text})

	resp, err := c.client.CreateChatCompletion(ctx, llm.ChatRequest{Messages: messages, MaxTokens: 256})
	if err != nil {
		return nil, err
	}
	raw := extractJSONObject(resp.Content)
	if raw == nil {
		return nil, nil
	}
	var fc FunctionCall
	if err := json.Unmarshal(raw, &fc); err != nil || fc.Name == "" {
		logging.Debugw("intent: classifier reply not a function call", "reply_len", len(resp.Content))
		return nil, nil
	}
	return raw, nil
}

// extractJSONObject pulls the first {...} span out of a model reply, which
// may be wrapped in prose or code fences.
func extractJSONObject(s string) json.RawMessage {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil
	}
	return json.RawMessage(candidate)
}

func init() {
	Intent.Register("llm", func(cfg config.ProviderConfig) (IntentClassifier, error) {
		return NewLLMIntentClassifier(), nil
	})
}
