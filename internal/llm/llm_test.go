package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/config"
)

func TestMockGeneratorStreamsPieces(t *testing.T) {
	g := &mockGenerator{delay: time.Millisecond}
	var (
		pieces []string
		last   Chunk
	)
	err := g.Generate(context.Background(), Request{SessionID: "s", Prompt: " why? "}, func(c Chunk) error {
		pieces = append(pieces, c.Content)
		last = c
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pieces) < 2 {
		t.Fatalf("expected several pieces, got %q", pieces)
	}
	if last.Partial || last.SessionID != "s" {
		t.Fatalf("unexpected final chunk %+v", last)
	}
	if got := strings.Join(pieces, ""); !strings.HasPrefix(got, `You asked: "why?".`) {
		t.Fatalf("unexpected answer %q", got)
	}
}

func TestMockGeneratorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMockGenerator().Generate(ctx, Request{Prompt: "q"}, func(Chunk) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Reference
	if _, err := FromConfig(cfg); err != nil {
		t.Fatalf("mock: %v", err)
	}
	cfg.LLMMode = "exec"
	cfg.LLMCommand = "  "
	if _, err := FromConfig(cfg); err == nil {
		t.Fatal("expected error for empty command")
	}
	cfg.LLMMode = "gpt"
	if _, err := FromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
