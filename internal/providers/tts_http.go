package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
)

// HTTPTTS posts {"text": ...} to a synthesis endpoint and reads back raw
// audio bytes (WAV).
type HTTPTTS struct {
	url       string
	authToken string
	voiceID   string
	client    *http.Client
}

func NewHTTPTTS(cfg config.ProviderConfig) (*HTTPTTS, error) {
	if strings.TrimSpace(cfg.TTSURL) == "" {
		return nil, fmt.Errorf("tts: url not configured")
	}
	voice := cfg.TTSVoiceID
	if voice == "" {
		voice = "default"
	}
	return &HTTPTTS{
		url:       cfg.TTSURL,
		authToken: cfg.AuthToken,
		voiceID:   voice,
		client:    &http.Client{},
	}, nil
}

func (t *HTTPTTS) VoiceID() string { return t.voiceID }

func (t *HTTPTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, _ := json.Marshal(map[string]string{"text": text, "voice": t.voiceID})
	resp, err := postWithRetries(ctx, t.client, t.url, "application/json", body, t.authToken, 2, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrSynthesis, resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSynthesis, err)
	}
	logging.Debugw("tts: synthesized", "text_len", len(text), "audio_bytes", len(audio))
	return audio, nil
}

func init() {
	TTS.Register("http", func(cfg config.ProviderConfig) (TextToSpeech, error) {
		return NewHTTPTTS(cfg)
	})
}
