package factory

import (
	"fmt"
	"net/http"
	"time"

	"ai-context-pipeline/pkg/llm"
	"ai-context-pipeline/pkg/llm/huggingface"
	"ai-context-pipeline/pkg/llm/ollama"
)

const defaultTimeout = 120 * time.Second

type ProviderConfig struct {
	Provider string // "ollama" | "huggingface"
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration // zero means defaultTimeout
}

func NewLLMProvider(cfg ProviderConfig) (llm.LLMProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Provider {
	case "ollama":
		return ollama.NewOllamaProvider(cfg.BaseURL, cfg.Model, ollama.WithHTTPClient(client)), nil
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, huggingface.WithHTTPClient(client)), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
