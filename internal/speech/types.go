// Package speech turns answer text into timed word marks, the signal the
// reference backend forwards as word_highlight events.
package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/config"
)

// Request contains the text to speak.
type Request struct {
	SessionID string
	Text      string
	Voice     string
}

// Mark reports that Word began playing at Offset from the start of speech.
type Mark struct {
	SessionID string
	Sequence  int
	Word      string
	Offset    time.Duration
}

// Marker is the contract for producing word marks. Both channels close when
// speech finishes or ctx is cancelled.
type Marker interface {
	Mark(ctx context.Context, req Request) (<-chan Mark, <-chan error)
}

// FromConfig builds the marker selected by cfg.MarkerMode.
func FromConfig(cfg config.ReferenceConfig) (Marker, error) {
	switch cfg.MarkerMode {
	case "", "mock":
		return NewMockMarker(cfg.WordsPerMinute), nil
	case "exec":
		return NewExecMarker(cfg.MarkerCommand)
	default:
		return nil, fmt.Errorf("unknown marker mode %q", cfg.MarkerMode)
	}
}
