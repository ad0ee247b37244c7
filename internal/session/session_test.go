package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	s := New("", "dev-1", ModeAuto)
	assert.Equal(t, StateIdle, s.State())
	assert.NotEmpty(t, s.ID)

	s.StartListening()
	assert.Equal(t, StateListening, s.State())

	id, ctx := s.StartSpeaking(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, StateSpeaking, s.State())
	assert.True(t, s.Speaking())

	s.FinishSpeaking(id)
	assert.Equal(t, StateIdle, s.State())
	select {
	case <-ctx.Done():
	default:
		t.Fatal("utterance context must be released on finish")
	}
}

func TestAbortCancelsAndFilters(t *testing.T) {
	s := New("sess-1", "dev-1", ModeAuto)
	id, ctx := s.StartSpeaking(context.Background())

	aborted := s.Abort()
	assert.Equal(t, id, aborted)
	assert.Equal(t, StateIdle, s.State(), "abort settles back to idle")
	assert.True(t, s.IsAborted(id), "consumer boundary must see the id as aborted")

	select {
	case <-ctx.Done():
	default:
		t.Fatal("abort must cancel the utterance context")
	}

	// Nothing in flight: a second abort is a no-op.
	assert.Empty(t, s.Abort())

	// A later utterance is unaffected by the earlier abort.
	id2, _ := s.StartSpeaking(context.Background())
	assert.NotEqual(t, id, id2)
	assert.False(t, s.IsAborted(id2))
}

func TestStartSpeakingSupersedesInFlightUtterance(t *testing.T) {
	s := New("sess-1", "dev-1", ModeAuto)
	u1, ctx1 := s.StartSpeaking(context.Background())
	u2, _ := s.StartSpeaking(context.Background())

	assert.True(t, s.IsAborted(u1), "superseded utterance must be filterable")
	assert.False(t, s.IsAborted(u2))
	select {
	case <-ctx1.Done():
	default:
		t.Fatal("superseding must cancel the old utterance context")
	}

	// Abort now targets the newest, and only, current utterance.
	assert.Equal(t, u2, s.Abort())
	assert.True(t, s.IsAborted(u2))
	assert.Empty(t, s.Abort())
}

func TestAbortedSetIsBounded(t *testing.T) {
	s := New("sess-1", "dev-1", ModeAuto)
	ids := make([]string, 0, maxAbortedTracked+8)
	for i := 0; i < maxAbortedTracked+8; i++ {
		id, _ := s.StartSpeaking(context.Background())
		s.Abort()
		ids = append(ids, id)
	}
	assert.False(t, s.IsAborted(ids[0]), "oldest aborted id must age out")
	assert.True(t, s.IsAborted(ids[len(ids)-1]))
	assert.Len(t, s.abortedOrder, maxAbortedTracked)
}

func TestStaleFinishIgnored(t *testing.T) {
	s := New("sess-1", "dev-1", ModeAuto)
	old, _ := s.StartSpeaking(context.Background())
	s.Abort()
	cur, _ := s.StartSpeaking(context.Background())

	s.FinishSpeaking(old)
	assert.Equal(t, StateSpeaking, s.State(), "stale finish must not end the current utterance")

	s.FinishSpeaking(cur)
	assert.Equal(t, StateIdle, s.State())
}

func TestJustWokenExpiry(t *testing.T) {
	s := New("sess-1", "dev-1", ModeAuto)
	assert.False(t, s.JustWoken())
	s.MarkJustWoken(20 * time.Millisecond)
	assert.True(t, s.JustWoken())
	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.JustWoken())
}

func TestHistoryCopy(t *testing.T) {
	s := New("sess-1", "dev-1", ModeAuto)
	s.Append(DialogueMessage{Role: RoleUser, Content: "hello"})
	h := s.History()
	require.Len(t, h, 1)
	h[0].Content = "mutated"
	assert.Equal(t, "hello", s.History()[0].Content)
}
