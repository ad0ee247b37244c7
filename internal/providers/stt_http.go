package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
)

// WhisperSTT posts a WAV-framed utterance to a whisper-style HTTP endpoint
// and reads back {"text": "..."}.
type WhisperSTT struct {
	url       string
	authToken string
	client    *http.Client
}

func NewWhisperSTT(cfg config.ProviderConfig) (*WhisperSTT, error) {
	if strings.TrimSpace(cfg.STTURL) == "" {
		return nil, fmt.Errorf("stt: url not configured")
	}
	return &WhisperSTT{
		url:       cfg.STTURL,
		authToken: cfg.AuthToken,
		client:    &http.Client{},
	}, nil
}

func (w *WhisperSTT) Recognize(ctx context.Context, wav []byte, sessionID string) (string, error) {
	sendTs := time.Now()
	resp, err := postWithRetries(ctx, w.client, w.url, "audio/wav", wav, w.authToken, 3, sessionID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrRecognitionTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrRecognition, resp.StatusCode)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrRecognition, err)
	}
	transcript := strings.TrimSpace(out.Text)
	logging.Infow("stt: response received",
		"session_id", sessionID,
		"status", resp.StatusCode,
		"latency_ms", time.Since(sendTs).Milliseconds(),
		"transcript_len", len(transcript))
	return transcript, nil
}

func init() {
	STT.Register("whisper-http", func(cfg config.ProviderConfig) (SpeechToText, error) {
		return NewWhisperSTT(cfg)
	})
}
