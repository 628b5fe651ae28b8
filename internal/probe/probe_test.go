package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiyueqingqian/model-check-sub000/internal/store"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

func TestProbe_GeminiJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"yes"}]}}]}`))
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "gemini-1.5-pro",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Gemini,
	})

	assert.Equal(t, store.StatusSuccess, result.Status)
	assert.Equal(t, "yes", result.ResponseContent)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 200, *result.StatusCode)
}

func TestProbe_ChatSSESuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "gpt-4o",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Chat,
	})

	assert.Equal(t, store.StatusSuccess, result.Status)
	assert.Equal(t, "hello", result.ResponseContent)
}

func TestProbe_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "gpt-4o",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Gemini,
	})

	assert.Equal(t, store.StatusFail, result.Status)
	assert.Contains(t, result.ErrorMsg, "HTTP 401")
}

func TestProbe_HiddenErrorIn2xxJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "gemini-1.5-pro",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Gemini,
	})

	assert.Equal(t, store.StatusFail, result.Status)
	assert.Equal(t, "model overloaded", result.ErrorMsg)
}

func TestProbe_ClaudeRetriesWithThinkingOnNon2xxFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded, try with thinking"}}`))
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "claude-3-5-sonnet",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Claude,
	})

	assert.Equal(t, 2, calls)
	assert.Equal(t, store.StatusSuccess, result.Status)
	assert.Equal(t, "ok", result.ResponseContent)
}

func TestProbe_ClaudeDoesNotRetryOnHiddenErrorIn2xxBody(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "claude-3-5-sonnet",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Claude,
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, store.StatusFail, result.Status)
	assert.Equal(t, "model overloaded", result.ErrorMsg)
}

func TestProbe_NonClaudeEndpointDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "gpt-4o",
		BaseURL: srv.URL, APIKey: "k", Endpoint: strategy.Chat,
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, store.StatusFail, result.Status)
}

func TestProbe_InvalidProxyFailsFast(t *testing.T) {
	exec := New("", "")
	result := exec.Probe(context.Background(), Job{
		ChannelID: "c1", ModelID: "m1", ModelName: "gpt-4o",
		BaseURL: "https://api.example.com", APIKey: "k", Endpoint: strategy.Chat,
		Proxy: "://not-a-url",
	})
	assert.Equal(t, store.StatusFail, result.Status)
	assert.Contains(t, result.ErrorMsg, "invalid proxy configuration")
}
