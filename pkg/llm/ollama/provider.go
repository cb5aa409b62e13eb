package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-context-pipeline/pkg/llm"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	defaultTimeout = 120 * time.Second

	// error bodies are truncated so a proxy HTML page does not flood the logs
	maxErrorBody = 512
)

// OllamaProvider talks to the /api/chat endpoint of a local or remote Ollama daemon.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ llm.LLMProvider = &OllamaProvider{}

type Option func(*OllamaProvider)

// WithHTTPClient shares one client (and its connection pool) across providers.
func WithHTTPClient(client *http.Client) Option {
	return func(p *OllamaProvider) {
		if client != nil {
			p.client = client
		}
	}
}

func NewOllamaProvider(baseURL, model string, opts ...Option) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OllamaProvider) BaseURL() string { return p.baseURL }

func (p *OllamaProvider) Timeout() time.Duration { return p.client.Timeout }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  *modelOptions `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	payload, err := json.Marshal(p.buildRequest(history, opts))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func (p *OllamaProvider) buildRequest(history []llm.Message, opts []llm.Option) chatRequest {
	options := &llm.Options{Temperature: 0.7}
	for _, opt := range opts {
		opt(options)
	}

	model := options.Model
	if model == "" {
		model = p.model
	}

	req := chatRequest{
		Model:    model,
		Messages: toChatMessages(history),
		Options:  &modelOptions{Temperature: options.Temperature, NumPredict: options.MaxTokens},
	}
	if options.JSONMode {
		req.Format = "json"
	}
	return req
}

// Ollama only knows system, user and assistant.
func toChatMessages(history []llm.Message) []chatMessage {
	out := make([]chatMessage, len(history))
	for i, msg := range history {
		role := msg.Role
		if role == "model" {
			role = "assistant"
		}
		out[i] = chatMessage{Role: role, Content: msg.Content}
	}
	return out
}

func decodeResponse(resp *http.Response) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("ollama error: status %d, body: %s", resp.StatusCode, snippet)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != "" {
		return "", errors.New("ollama error: " + out.Error)
	}
	return out.Message.Content, nil
}
