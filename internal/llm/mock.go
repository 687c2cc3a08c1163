package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

// Generate streams a canned answer a few words at a time.
func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	answer := "You asked: \"" + strings.TrimSpace(req.Prompt) + "\". This is a mock answer, streamed in pieces."
	words := strings.SplitAfter(answer, " ")
	for i := 0; i < len(words); i += 3 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
		end := min(i+3, len(words))
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   strings.Join(words[i:end], ""),
			Partial:   end < len(words),
		}); err != nil {
			return err
		}
	}
	return nil
}
