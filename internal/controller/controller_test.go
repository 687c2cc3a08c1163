package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/sse"
)

type fakeTransport struct {
	openErr   error
	cancelErr error
	streams   chan *io.PipeWriter
	cancels   chan struct{}

	mu      sync.Mutex
	queries []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams: make(chan *io.PipeWriter, 8),
		cancels: make(chan struct{}, 8),
	}
}

func (f *fakeTransport) Open(ctx context.Context, query string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	pr, pw := io.Pipe()
	f.streams <- pw
	return pr, nil
}

func (f *fakeTransport) CancelSpeech(ctx context.Context) error {
	f.cancels <- struct{}{}
	return f.cancelErr
}

func (f *fakeTransport) stream(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-f.streams:
		return pw
	case <-time.After(2 * time.Second):
		t.Fatal("transport was never opened")
		return nil
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	events   []string
	finished map[string]Summary
}

func (r *fakeRecorder) SessionStarted(_ context.Context, id, query string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id+":"+query)
	return nil
}

func (r *fakeRecorder) EventApplied(_ context.Context, _ string, ev sse.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Name)
	return nil
}

func (r *fakeRecorder) SessionFinished(_ context.Context, id string, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = make(map[string]Summary)
	}
	r.finished[id] = s
	return nil
}

func (r *fakeRecorder) summary(id string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.finished[id]
	return s, ok
}

func newTestController(t *testing.T, tr Transport, opts ...Option) *Controller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	seq := 0
	opts = append([]Option{
		WithLogger(logger),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("session-%d", seq)
		}),
	}, opts...)
	c := New(context.Background(), tr, opts...)
	t.Cleanup(c.Close)
	return c
}

func eventually(t *testing.T, c *Controller, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := c.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, w io.Writer, name, data string) {
	t.Helper()
	if err := sse.Encode(w, sse.Event{Name: name, Data: data}); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestStartValidatesQuery(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr)

	if _, err := c.Start("   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if snap := c.Snapshot(); snap.Processing || snap.SessionID != "" {
		t.Fatalf("empty query must not start a session: %+v", snap)
	}

	if _, err := c.Start("hi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Start("again"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	tr.stream(t)
}

func TestStreamDrivesHighlight(t *testing.T) {
	tr := newFakeTransport()
	rec := &fakeRecorder{}
	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	c := newTestController(t, tr, WithRecorder(rec), WithObserver(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}))

	id, err := c.Start("greet me")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)

	send(t, pw, "chunk", `"Hello "`)
	send(t, pw, "chunk", `"world."`)
	eventually(t, c, "tokens", func(s Snapshot) bool { return len(s.Tokens) == 4 })

	send(t, pw, "word_highlight", `"hello"`)
	snap := eventually(t, c, "first word", func(s Snapshot) bool { return s.CurrentlySpeaking == 0 })
	if !snap.Speaking || snap.LastSpoken != 1 {
		t.Fatalf("unexpected snapshot after hello: %+v", snap)
	}

	send(t, pw, "word_highlight", `"world"`)
	send(t, pw, "full_text", `"Hello world."`)
	send(t, pw, "stream_end", `{"reason":"complete"}`)

	snap = eventually(t, c, "stream end", func(s Snapshot) bool { return !s.Processing })
	if snap.Speaking || snap.CurrentlySpeaking != -1 || snap.LastSpoken != 3 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
	if snap.State != "idle" || snap.Error != "" || snap.FullText != "Hello world." {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
	_ = pw.Close()

	sum, ok := rec.summary(id)
	if !ok || sum.Status != StatusCompleted || sum.Tokens != 4 || sum.LastSpoken != 3 {
		t.Fatalf("unexpected recorded summary: %+v (%v)", sum, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	prev := -1
	for _, s := range snaps {
		if s.SessionID == id && s.LastSpoken < prev {
			t.Fatalf("observer saw lastSpoken go backwards: %d -> %d", prev, s.LastSpoken)
		}
		prev = s.LastSpoken
	}
}

func TestCancelInvalidatesStream(t *testing.T) {
	tr := newFakeTransport()
	rec := &fakeRecorder{}
	c := newTestController(t, tr, WithRecorder(rec))

	id, err := c.Start("tell me a story")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)
	send(t, pw, "chunk", `"Once upon"`)
	send(t, pw, "word_highlight", `"once"`)
	eventually(t, c, "speaking", func(s Snapshot) bool { return s.Speaking })

	c.mu.Lock()
	stale := c.active
	c.mu.Unlock()

	c.Cancel()
	snap := c.Snapshot()
	if snap.Processing || snap.Speaking || snap.CurrentlySpeaking != -1 {
		t.Fatalf("cancel must reset observable state at once: %+v", snap)
	}
	if snap.LastSpoken != 1 {
		t.Fatalf("expected last spoken kept after cancel, got %d", snap.LastSpoken)
	}

	select {
	case <-tr.cancels:
	case <-time.After(2 * time.Second):
		t.Fatal("speech cancel was not requested")
	}

	if c.apply(context.Background(), stale, sse.Event{Name: "word_highlight", Data: `"upon"`}) {
		t.Fatal("stale handle should stop its read loop")
	}
	if after := c.Snapshot(); after.CurrentlySpeaking != -1 || after.LastSpoken != 1 {
		t.Fatalf("stale event mutated state: %+v", after)
	}

	// The aborted read must not surface as an error.
	if _, err := pw.Write([]byte("event: chunk\ndata: \"x\"\n\n")); err == nil {
		t.Fatal("expected write to closed stream to fail")
	}
	c.wg.Wait()
	if snap := c.Snapshot(); snap.Error != "" {
		t.Fatalf("cancellation reported as error: %q", snap.Error)
	}
	if sum, ok := rec.summary(id); !ok || sum.Status != StatusCancelled {
		t.Fatalf("expected cancelled summary, got %+v (%v)", sum, ok)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	tr.cancelErr = errors.New("speech offline")
	c := newTestController(t, tr)

	c.Cancel()
	c.Cancel()
	for range 2 {
		select {
		case <-tr.cancels:
		case <-time.After(2 * time.Second):
			t.Fatal("speech cancel was not requested")
		}
	}
	snap := c.Snapshot()
	if snap.Processing || snap.Error != "" || snap.LastSpoken != -1 {
		t.Fatalf("unexpected snapshot after idle cancel: %+v", snap)
	}
}

func TestStartResetsPreviousSession(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr)

	if _, err := c.Start("first"); err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)
	send(t, pw, "chunk", `"one two"`)
	send(t, pw, "word_highlight", `"two"`)
	send(t, pw, "error", `"model overloaded"`)
	snap := eventually(t, c, "error", func(s Snapshot) bool { return !s.Processing })
	if snap.Error != "model overloaded" {
		t.Fatalf("expected server error message, got %q", snap.Error)
	}

	id, err := c.Start("second")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap = c.Snapshot()
	if snap.SessionID != id || len(snap.Tokens) != 0 || snap.LastSpoken != -1 || snap.CurrentlySpeaking != -1 || snap.Error != "" {
		t.Fatalf("expected fresh state, got %+v", snap)
	}
	tr.stream(t)
}

func TestStartAfterStreamEndIsFresh(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr)

	if _, err := c.Start("first"); err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)
	send(t, pw, "chunk", `"one two"`)
	send(t, pw, "word_highlight", `"two"`)
	send(t, pw, "stream_end", `{}`)
	snap := eventually(t, c, "stream end", func(s Snapshot) bool { return !s.Processing })
	if snap.LastSpoken != 2 || snap.Error != "" {
		t.Fatalf("unexpected final state %+v", snap)
	}

	id, err := c.Start("second")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap = c.Snapshot()
	if snap.SessionID != id || len(snap.Tokens) != 0 || snap.LastSpoken != -1 || snap.CurrentlySpeaking != -1 {
		t.Fatalf("expected fresh state, got %+v", snap)
	}
	if !snap.Processing || snap.Speaking {
		t.Fatalf("expected new session streaming, got %+v", snap)
	}
	tr.stream(t)
}

func TestMalformedPayloadFailsSession(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr)
	if _, err := c.Start("q"); err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)
	send(t, pw, "chunk", `{"text":"nope"}`)

	snap := eventually(t, c, "failure", func(s Snapshot) bool { return !s.Processing })
	if !strings.Contains(snap.Error, "parse chunk payload") {
		t.Fatalf("expected parse error, got %q", snap.Error)
	}
}

func TestTransportErrors(t *testing.T) {
	tr := newFakeTransport()
	tr.openErr = errors.New("connection refused")
	rec := &fakeRecorder{}
	c := newTestController(t, tr, WithRecorder(rec))

	id, err := c.Start("q")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := eventually(t, c, "failure", func(s Snapshot) bool { return !s.Processing })
	if !strings.Contains(snap.Error, "transport open: connection refused") {
		t.Fatalf("expected transport error, got %q", snap.Error)
	}
	if sum, ok := rec.summary(id); !ok || sum.Status != StatusFailed {
		t.Fatalf("expected failed summary, got %+v (%v)", sum, ok)
	}

	tr.openErr = nil
	if _, err := c.Start("q"); err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)
	send(t, pw, "chunk", `"partial"`)
	_ = pw.CloseWithError(errors.New("connection reset"))
	snap = eventually(t, c, "read failure", func(s Snapshot) bool { return !s.Processing })
	if !strings.Contains(snap.Error, "transport read: connection reset") {
		t.Fatalf("expected read error, got %q", snap.Error)
	}
}

func TestEOFEndsSession(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(t, tr)
	if _, err := c.Start("q"); err != nil {
		t.Fatalf("start: %v", err)
	}
	pw := tr.stream(t)
	send(t, pw, "chunk", `"done"`)
	_ = pw.Close()

	snap := eventually(t, c, "end", func(s Snapshot) bool { return !s.Processing })
	if snap.Error != "" || snap.State != "idle" || len(snap.Tokens) != 1 {
		t.Fatalf("unexpected snapshot after EOF: %+v", snap)
	}
}

func TestClosedControllerRejectsStart(t *testing.T) {
	c := newTestController(t, newFakeTransport())
	c.Close()
	if _, err := c.Start("q"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
