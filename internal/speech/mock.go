package speech

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/transcript"
)

type mockMarker struct {
	interval time.Duration
}

// NewMockMarker paces the words of the text at a fixed speaking rate.
func NewMockMarker(wordsPerMinute int) Marker {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 180
	}
	return &mockMarker{interval: time.Minute / time.Duration(wordsPerMinute)}
}

func (m *mockMarker) Mark(ctx context.Context, req Request) (<-chan Mark, <-chan error) {
	marks := make(chan Mark)
	errs := make(chan error, 1)
	go func() {
		defer close(marks)
		defer close(errs)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		seq := 0
		for _, tok := range transcript.Tokenize(req.Text) {
			if !transcript.HasWordChar(tok) {
				continue
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-ticker.C:
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case marks <- Mark{SessionID: req.SessionID, Sequence: seq, Word: tok, Offset: time.Duration(seq) * m.interval}:
			}
			seq++
		}
	}()
	return marks, errs
}
