package server

import (
	"context"
	"strings"

	"github.com/voicegate-lab/internal/session"
	"github.com/voicegate-lab/llm"
)

const dialogueSystemPrompt = "You are a voice assistant. Answer briefly in plain spoken language; " +
	"no markdown, no lists, no code."

// DialogueEngine produces open-dialogue replies from the chat backend,
// maintaining per-session history.
type DialogueEngine struct {
	client *llm.Client
}

func NewDialogueEngine(client *llm.Client) *DialogueEngine {
	return &DialogueEngine{client: client}
}

// Chat appends the user turn, asks the model, records and returns the reply.
func (e *DialogueEngine) Chat(ctx context.Context, sess *session.Session, text string) (string, error) {
	sess.Append(session.DialogueMessage{Role: session.RoleUser, Content: text})
	return e.complete(ctx, sess)
}

// FollowUp feeds raw tool output back through the model so the spoken
// reply is the model's reading of it, not the payload verbatim.
func (e *DialogueEngine) FollowUp(ctx context.Context, sess *session.Session, toolName, payload string) (string, error) {
	sess.Append(session.DialogueMessage{Role: session.RoleTool, Content: payload, ToolCallID: toolName})
	return e.complete(ctx, sess)
}

func (e *DialogueEngine) complete(ctx context.Context, sess *session.Session) (string, error) {
	messages := []llm.Message{{Role: session.RoleSystem, Content: dialogueSystemPrompt}}
	for _, m := range sess.History() {
		switch m.Role {
		case session.RoleUser, session.RoleAssistant:
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		case session.RoleTool:
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Content)
	if reply != "" {
		sess.Append(session.DialogueMessage{Role: session.RoleAssistant, Content: reply})
	}
	return reply, nil
}
