package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible chat completions endpoint. It backs
// both the open-dialogue engine and the intent classifier.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// Message mirrors the chat wire format.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

func NewClientFromEnv() *Client {
	base := os.Getenv("OPENAI_BASE_URL")
	key := os.Getenv("OPENAI_API_KEY")
	if base == "" {
		base = "http://127.0.0.1:8000/v1"
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		APIKey:  key,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	fallback := os.Getenv("OPENAI_FALLBACK_MODEL")
	model := req.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "local"
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	cfgMax := 4000
	if mt := os.Getenv("LLM_MAX_TOKENS"); mt != "" {
		var parsed int
		fmt.Sscanf(mt, "%d", &parsed)
		if parsed > 0 {
			cfgMax = parsed
		}
	}
	if maxTokens > cfgMax {
		maxTokens = cfgMax
	}

	resp, err := c.post(ctx, model, req.Messages, maxTokens, req.Temperature)
	if err != nil {
		// transient network error; try fallback once if different
		if fallback != "" && fallback != model {
			return c.post(ctx, fallback, req.Messages, maxTokens, req.Temperature)
		}
		return ChatResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (ChatResponse, error) {
	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	bodyBytes, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ChatResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		content := ""
		if len(out.Choices) > 0 {
			content = out.Choices[0].Message.Content
		}
		return ChatResponse{ID: "resp", Content: content}, nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return ChatResponse{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	// 4xx are treated as permanent
	return ChatResponse{}, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}
