package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration. Values come from, in order of
// precedence: environment overrides, the YAML file, then built-in defaults.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	AdminAddr  string `yaml:"admin_addr"`

	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Accumulator AccumulatorConfig `yaml:"accumulator"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Wake        WakeConfig        `yaml:"wake"`
	Exit        ExitConfig        `yaml:"exit"`
	Workers     WorkerConfig      `yaml:"workers"`
	Session     SessionConfig     `yaml:"session"`
	Providers   ProviderConfig    `yaml:"providers"`
	MCPURL      string            `yaml:"mcp_url"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FrameDurationMs int `yaml:"frame_duration_ms"`
}

// FrameSamples returns the PCM sample count of one frame.
func (a AudioConfig) FrameSamples() int {
	return a.SampleRate * a.FrameDurationMs / 1000
}

type VADConfig struct {
	Provider         string  `yaml:"provider"`
	HighThreshold    float64 `yaml:"high_threshold"`
	LowThreshold     float64 `yaml:"low_threshold"`
	BlockSamples     int     `yaml:"block_samples"`
	WindowBlocks     int     `yaml:"window_blocks"`
	WindowVoicedMin  int     `yaml:"window_voiced_min"`
	SilenceTimeoutMs int     `yaml:"silence_timeout_ms"`
}

type AccumulatorConfig struct {
	TailFrames         int `yaml:"tail_frames"`
	MinUtteranceFrames int `yaml:"min_utterance_frames"`
	MaxUtteranceFrames int `yaml:"max_utterance_frames"`
}

type RecognitionConfig struct {
	TimeoutMs        int     `yaml:"timeout_ms"`
	SpeakerThreshold float64 `yaml:"speaker_threshold"`
}

type WakeConfig struct {
	Phrases          []string `yaml:"phrases"`
	WindowS          int      `yaml:"window_s"`
	RefreshIntervalS int      `yaml:"refresh_interval_s"`
	CacheDir         string   `yaml:"cache_dir"`
}

type ExitConfig struct {
	Commands []string `yaml:"commands"`
}

type WorkerConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

type SessionConfig struct {
	DefaultListenMode string `yaml:"default_listen_mode"`
	IdleTimeoutS      int    `yaml:"idle_timeout_s"`
	RawFunctionCall   bool   `yaml:"raw_function_call"`
}

// ProviderConfig names and configures the external recognition/synthesis
// services. Provider keys select factories from the registry; unknown keys
// fail at startup, not at first use.
type ProviderConfig struct {
	STT        string `yaml:"stt"`
	TTS        string `yaml:"tts"`
	Voiceprint string `yaml:"voiceprint"`
	Intent     string `yaml:"intent"`

	STTURL        string `yaml:"stt_url"`
	TTSURL        string `yaml:"tts_url"`
	TTSVoiceID    string `yaml:"tts_voice_id"`
	VoiceprintURL string `yaml:"voiceprint_url"`
	AuthToken     string `yaml:"auth_token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8000",
		AdminAddr:  ":9090",
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMs: 60,
		},
		VAD: VADConfig{
			Provider:         "rms",
			HighThreshold:    0.60,
			LowThreshold:     0.35,
			BlockSamples:     512,
			WindowBlocks:     15,
			WindowVoicedMin:  6,
			SilenceTimeoutMs: 1200,
		},
		Accumulator: AccumulatorConfig{
			TailFrames:         10,
			MinUtteranceFrames: 15,
			MaxUtteranceFrames: 1000,
		},
		Recognition: RecognitionConfig{
			TimeoutMs:        15000,
			SpeakerThreshold: 0.40,
		},
		Wake: WakeConfig{
			Phrases:          []string{"computer", "hey computer", "hello computer", "ok computer"},
			WindowS:          0,
			RefreshIntervalS: 3600,
		},
		Exit: ExitConfig{
			Commands: []string{"goodbye", "exit", "quit", "bye bye"},
		},
		Workers: WorkerConfig{
			PoolSize:  8,
			QueueSize: 64,
		},
		Session: SessionConfig{
			DefaultListenMode: "auto",
			IdleTimeoutS:      300,
		},
		Providers: ProviderConfig{
			STT:    "whisper-http",
			TTS:    "http",
			Intent: "llm",
		},
	}
}

// Load reads the YAML file at path (if non-empty), layers it over defaults,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		c.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_ADDR")); v != "" {
		c.AdminAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STT_URL")); v != "" {
		c.Providers.STTURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TTS_URL")); v != "" {
		c.Providers.TTSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TTS_VOICE_ID")); v != "" {
		c.Providers.TTSVoiceID = v
	}
	if v := strings.TrimSpace(os.Getenv("VOICEPRINT_URL")); v != "" {
		c.Providers.VoiceprintURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDER_AUTH_TOKEN")); v != "" {
		c.Providers.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_URL")); v != "" {
		c.MCPURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WAKE_PHRASES")); v != "" {
		if parts := splitCommaList(v); len(parts) > 0 {
			c.Wake.Phrases = parts
		}
	}
	if v := strings.TrimSpace(os.Getenv("EXIT_COMMANDS")); v != "" {
		if parts := splitCommaList(v); len(parts) > 0 {
			c.Exit.Commands = parts
		}
	}
	if n := envInt("RECOGNITION_TIMEOUT_MS"); n > 0 {
		c.Recognition.TimeoutMs = n
	}
	if n := envInt("SILENCE_TIMEOUT_MS"); n > 0 {
		c.VAD.SilenceTimeoutMs = n
	}
	if n := envInt("WORKER_POOL_SIZE"); n > 0 {
		c.Workers.PoolSize = n
	}
}

func (c *Config) validate() error {
	if c.VAD.LowThreshold >= c.VAD.HighThreshold {
		return fmt.Errorf("vad: low_threshold (%v) must be below high_threshold (%v)", c.VAD.LowThreshold, c.VAD.HighThreshold)
	}
	if c.VAD.WindowVoicedMin > c.VAD.WindowBlocks {
		return fmt.Errorf("vad: window_voiced_min (%d) exceeds window_blocks (%d)", c.VAD.WindowVoicedMin, c.VAD.WindowBlocks)
	}
	switch c.Session.DefaultListenMode {
	case "auto", "manual", "realtime":
	default:
		return fmt.Errorf("session: unknown default_listen_mode %q", c.Session.DefaultListenMode)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.FrameDurationMs <= 0 {
		return fmt.Errorf("audio: sample_rate and frame_duration_ms must be positive")
	}
	return nil
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
