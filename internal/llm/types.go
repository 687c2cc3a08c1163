// Package llm produces the answer text the reference backend streams.
package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-highlight/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	SessionID string
	Prompt    string
	MaxTokens int
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID string
	Content   string
	Partial   bool
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// FromConfig builds the generator selected by cfg.LLMMode.
func FromConfig(cfg config.ReferenceConfig) (Generator, error) {
	switch cfg.LLMMode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.LLMEndpoint, cfg.LLMModel), nil
	case "exec":
		return NewExecGenerator(cfg.LLMCommand)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.LLMMode)
	}
}
