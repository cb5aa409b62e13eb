package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"ai-context-pipeline/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSendsJSONFormat(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: `{"resolvedQuery":"x"}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "llama3")
	out, err := p.Generate(context.Background(), "resolve", llm.WithJSONMode(), llm.WithTemperature(0), llm.WithMaxTokens(64))

	require.NoError(t, err)
	assert.Equal(t, `{"resolvedQuery":"x"}`, out)
	assert.Equal(t, "json", captured.Format)
	assert.Equal(t, "llama3", captured.Model)
	assert.Equal(t, 0.0, captured.Options.Temperature)
	assert.Equal(t, 64, captured.Options.NumPredict)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestChatMapsModelRoleAndSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "assistant", req.Messages[0].Role)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Repeat("overloaded ", 200)))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	_, err := p.Chat(context.Background(), []llm.Message{{Role: "model", Content: "hi"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Less(t, len(err.Error()), maxErrorBody+64)
}

func TestChatSurfacesErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model \"llama9\" not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "llama9").Generate(context.Background(), "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestWithHTTPClientIsUsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Content: "ok"}, Done: true})
	}))
	defer srv.Close()

	transport := &countingTransport{}
	shared := &http.Client{Transport: transport}

	p := NewOllamaProvider(srv.URL, "llama3", WithHTTPClient(shared))
	out, err := p.Generate(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(1), transport.calls.Load())

	// nil keeps the default client
	assert.NotNil(t, NewOllamaProvider("", "llama3", WithHTTPClient(nil)).client)
	assert.Equal(t, DefaultBaseURL, NewOllamaProvider("", "llama3").BaseURL())
}
