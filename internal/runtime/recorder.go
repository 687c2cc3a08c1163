package runtime

import (
	"context"

	"github.com/loqalabs/loqa-highlight/internal/controller"
	"github.com/loqalabs/loqa-highlight/internal/eventstore"
	"github.com/loqalabs/loqa-highlight/internal/sse"
)

// storeRecorder persists controller history into the event store.
type storeRecorder struct {
	store *eventstore.Store
}

func (r storeRecorder) SessionStarted(ctx context.Context, sessionID, query string) error {
	return r.store.StartSession(ctx, sessionID, query)
}

func (r storeRecorder) EventApplied(ctx context.Context, sessionID string, ev sse.Event) error {
	return r.store.AppendEvent(ctx, sessionID, ev.Name, ev.Data)
}

func (r storeRecorder) SessionFinished(ctx context.Context, sessionID string, s controller.Summary) error {
	return r.store.FinishSession(ctx, sessionID, s.Status, s.Error, s.Tokens, s.LastSpoken)
}
