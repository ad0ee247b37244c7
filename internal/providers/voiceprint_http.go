package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
)

// HTTPVoicePrint posts a WAV utterance to a speaker-identification endpoint.
// The endpoint answers {"speaker": "...", "confidence": 0.87}; an empty
// speaker means no match and is not an error.
type HTTPVoicePrint struct {
	url       string
	authToken string
	client    *http.Client
}

func NewHTTPVoicePrint(cfg config.ProviderConfig) (*HTTPVoicePrint, error) {
	if strings.TrimSpace(cfg.VoiceprintURL) == "" {
		return nil, fmt.Errorf("voiceprint: url not configured")
	}
	return &HTTPVoicePrint{
		url:       cfg.VoiceprintURL,
		authToken: cfg.AuthToken,
		client:    &http.Client{},
	}, nil
}

func (v *HTTPVoicePrint) Identify(ctx context.Context, wav []byte, sessionID string) (string, float64, error) {
	resp, err := postWithRetries(ctx, v.client, v.url, "audio/wav", wav, v.authToken, 2, sessionID)
	if err != nil {
		return "", 0, fmt.Errorf("%w: voiceprint: %v", ErrRecognition, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: voiceprint status %d", ErrRecognition, resp.StatusCode)
	}
	var out struct {
		Speaker    string  `json:"speaker"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("%w: voiceprint decode: %v", ErrRecognition, err)
	}
	logging.Debugw("voiceprint: response", "session_id", sessionID, "speaker", out.Speaker, "confidence", out.Confidence)
	return strings.TrimSpace(out.Speaker), out.Confidence, nil
}

func init() {
	Voiceprint.Register("http", func(cfg config.ProviderConfig) (VoicePrintIdentifier, error) {
		return NewHTTPVoicePrint(cfg)
	})
}
