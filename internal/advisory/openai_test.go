package advisory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, choices []map[string]any) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   body["model"],
			"choices": choices,
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestNewOpenAIValidates(t *testing.T) {
	_, err := NewOpenAI(Config{PerMinute: 1}, nil)
	assert.ErrorContains(t, err, "api key")

	_, err = NewOpenAI(Config{APIKey: "k"}, nil)
	assert.ErrorContains(t, err, "per-minute")
}

func TestGenerateReturnsFirstChoice(t *testing.T) {
	srv, requests := completionServer(t, []map[string]any{{
		"index":         0,
		"message":       map[string]string{"role": "assistant", "content": "Staffing is the risk. Hire first."},
		"finish_reason": "stop",
	}})
	gen, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model", PerMinute: 600}, nil)
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), "Bet: expand to EU")
	require.NoError(t, err)
	assert.Equal(t, "Staffing is the risk. Hire first.", out)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "test-model", req["model"])
	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "Bet: expand to EU", messages[1].(map[string]any)["content"])
}

func TestGenerateWithoutChoices(t *testing.T) {
	srv, _ := completionServer(t, []map[string]any{})
	gen, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL, PerMinute: 600}, nil)
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestGenerateHonorsRateLimit(t *testing.T) {
	srv, requests := completionServer(t, []map[string]any{{
		"index":   0,
		"message": map[string]string{"role": "assistant", "content": "ok"},
	}})
	gen, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL, PerMinute: 1}, nil)
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.Generate(ctx, "second")
	assert.ErrorContains(t, err, "rate limit")
	assert.Len(t, *requests, 1)
}
