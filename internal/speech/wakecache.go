package speech

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voicegate-lab/internal/config"
	"github.com/voicegate-lab/internal/logging"
)

// WakeCache holds pre-synthesized wake-word greetings so a wake reply never
// waits on the TTS backend. Entries are keyed by voice and text; a stale
// entry is still served immediately while a background refresh replaces it.
// Audio is persisted to disk so the cache survives restarts.
type WakeCache struct {
	dir     string
	voiceID string
	ttl     time.Duration

	mu         sync.Mutex
	entries    map[string]wakeEntry
	refreshing map[string]bool
}

type wakeEntry struct {
	audio    []byte
	storedAt time.Time
}

func NewWakeCache(cfg config.WakeConfig, voiceID string) *WakeCache {
	c := &WakeCache{
		dir:        cfg.CacheDir,
		voiceID:    voiceID,
		ttl:        time.Duration(cfg.RefreshIntervalS) * time.Second,
		entries:    make(map[string]wakeEntry),
		refreshing: make(map[string]bool),
	}
	c.loadFromDisk()
	return c
}

func (c *WakeCache) key(text string) string {
	h := sha1.Sum([]byte(c.voiceID + "\n" + text))
	return hex.EncodeToString(h[:])
}

// Get returns cached audio for text. stale means the entry is past its
// refresh interval and the caller should schedule RefreshAsync; the audio
// is still usable.
func (c *WakeCache) Get(text string) (audio []byte, found, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(text)]
	if !ok {
		return nil, false, false
	}
	return e.audio, true, c.ttl > 0 && time.Since(e.storedAt) > c.ttl
}

// Store records audio for text and persists it when a cache dir is set.
func (c *WakeCache) Store(text string, audio []byte) {
	k := c.key(text)
	c.mu.Lock()
	c.entries[k] = wakeEntry{audio: audio, storedAt: time.Now()}
	c.mu.Unlock()
	if c.dir == "" {
		return
	}
	if err := saveFileAtomic(filepath.Join(c.dir, k+".wav"), audio, 0o644); err != nil {
		logging.Warnw("wakecache: persist failed", "error", err)
	}
}

// RefreshAsync re-synthesizes the entry for text in the background. Repeat
// calls while a refresh is in flight are ignored, and the caller is never
// blocked.
func (c *WakeCache) RefreshAsync(text string, synth func(context.Context) ([]byte, error)) {
	k := c.key(text)
	c.mu.Lock()
	if c.refreshing[k] {
		c.mu.Unlock()
		return
	}
	c.refreshing[k] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, k)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		audio, err := synth(ctx)
		if err != nil {
			logging.Warnw("wakecache: refresh failed", "error", err)
			return
		}
		c.Store(text, audio)
		logging.Debugw("wakecache: entry refreshed", "audio_bytes", len(audio))
	}()
}

// loadFromDisk repopulates entries from the cache dir. Keys on disk are
// already hashed, so entries are stored under their filename stem.
func (c *WakeCache) loadFromDisk() {
	if c.dir == "" {
		return
	}
	items, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, it := range items {
		if it.IsDir() || filepath.Ext(it.Name()) != ".wav" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, it.Name()))
		if err != nil {
			continue
		}
		storedAt := time.Now()
		if info, err := it.Info(); err == nil {
			storedAt = info.ModTime()
		}
		k := it.Name()[:len(it.Name())-len(".wav")]
		c.mu.Lock()
		c.entries[k] = wakeEntry{audio: data, storedAt: storedAt}
		c.mu.Unlock()
	}
	logging.Debugw("wakecache: loaded from disk", "entries", len(c.entries))
}
