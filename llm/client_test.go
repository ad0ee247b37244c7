package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelSelectionAndFallback(t *testing.T) {
	// mock server that returns 500 for model "primary" and 200 for others
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		json.NewDecoder(r.Body).Decode(&p)
		model, _ := p["model"].(string)
		if model == "primary" {
			http.Error(w, "server error", 500)
			return
		}
		resp := map[string]interface{}{"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok from " + model}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	os.Setenv("OPENAI_BASE_URL", ts.URL)
	os.Setenv("OPENAI_MODEL", "primary")
	os.Setenv("OPENAI_FALLBACK_MODEL", "local")
	defer func() {
		os.Unsetenv("OPENAI_BASE_URL")
		os.Unsetenv("OPENAI_MODEL")
		os.Unsetenv("OPENAI_FALLBACK_MODEL")
	}()

	client := NewClientFromEnv()
	resp, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err, "expected success via fallback")
	assert.Equal(t, "ok from local", resp.Content)
}

func TestPermanentError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", 401)
	}))
	defer ts.Close()

	os.Setenv("OPENAI_BASE_URL", ts.URL)
	os.Setenv("OPENAI_MODEL", "primary")
	os.Unsetenv("OPENAI_FALLBACK_MODEL")
	defer func() {
		os.Unsetenv("OPENAI_BASE_URL")
		os.Unsetenv("OPENAI_MODEL")
	}()

	client := NewClientFromEnv()
	_, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanent)
}
