// Package controller owns the single live transcript session: it opens the
// backend stream, feeds its events through the alignment engine and
// coordinates user-initiated cancellation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-highlight/internal/sse"
	"github.com/loqalabs/loqa-highlight/internal/transcript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrBusy       = errors.New("a session is already active")
	ErrEmptyQuery = errors.New("query must not be empty")
	ErrClosed     = errors.New("controller closed")
)

// TransportError is a connection or read failure that was not caused by
// cancellation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport is the backend collaborator.
type Transport interface {
	// Open begins an exchange and returns the event stream body.
	Open(ctx context.Context, query string) (io.ReadCloser, error)
	// CancelSpeech asks the speech subsystem to stop audio.
	CancelSpeech(ctx context.Context) error
}

// Session outcomes passed to a Recorder.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Summary describes a finished session.
type Summary struct {
	Status     string
	Tokens     int
	LastSpoken int
	Error      string
}

// Recorder persists session history. Failures are logged, never surfaced.
type Recorder interface {
	SessionStarted(ctx context.Context, sessionID, query string) error
	EventApplied(ctx context.Context, sessionID string, ev sse.Event) error
	SessionFinished(ctx context.Context, sessionID string, summary Summary) error
}

// Observer receives every state change in order. It runs on the goroutine
// that made the change and must not call Start, Cancel or Close.
type Observer func(Snapshot)

// Snapshot is the observable highlight state.
type Snapshot struct {
	SessionID         string             `json:"session_id,omitempty"`
	State             string             `json:"state"`
	Processing        bool               `json:"processing"`
	Speaking          bool               `json:"speaking"`
	Tokens            []transcript.Token `json:"tokens"`
	LastSpoken        int                `json:"last_spoken"`
	CurrentlySpeaking int                `json:"currently_speaking"`
	FullText          string             `json:"full_text,omitempty"`
	Error             string             `json:"error,omitempty"`
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

func WithCancelTimeout(d time.Duration) Option {
	return func(c *Controller) { c.cancelTimeout = d }
}

// handle identifies one transport read-stream. Only the handle stored in
// Controller.active may mutate the session.
type handle struct {
	id              string
	ctx             context.Context
	cancel          context.CancelFunc
	body            io.ReadCloser
	cancelRequested bool
}

type Controller struct {
	transport     Transport
	recorder      Recorder
	observers     []Observer
	logger        *slog.Logger
	newID         func() string
	cancelTimeout time.Duration
	inst          instruments

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	notify sync.Mutex

	mu         sync.Mutex
	active     *handle
	session    *transcript.Session
	processing bool
	speaking   bool
	closed     bool
}

func New(parent context.Context, transport Transport, opts ...Option) *Controller {
	ctx, stop := context.WithCancel(parent)
	c := &Controller{
		transport:     transport,
		logger:        slog.Default(),
		newID:         uuid.NewString,
		cancelTimeout: 5 * time.Second,
		ctx:           ctx,
		stop:          stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "transcript-controller"))
	c.inst = newInstruments(c.logger)
	return c
}

// Start resets all session state and begins streaming the answer to query.
// It returns ErrEmptyQuery or ErrBusy without side effects.
func (c *Controller) Start(query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.processing {
		c.mu.Unlock()
		return "", ErrBusy
	}
	h := &handle{id: c.newID()}
	h.ctx, h.cancel = context.WithCancel(c.ctx)
	c.active = h
	c.session = transcript.NewSession(h.id)
	c.processing = true
	c.speaking = false
	c.wg.Add(1)
	c.publishLocked()

	go c.run(h, query)
	return h.id, nil
}

// Cancel stops the live session, if any. The observable state flips at once;
// the stream is aborted and the speech subsystem is told to stop in the
// background. Calling Cancel repeatedly is safe.
func (c *Controller) Cancel() {
	c.mu.Lock()
	h := c.active
	c.active = nil
	c.processing = false
	c.speaking = false
	var summary Summary
	if c.session != nil {
		c.session.Cancel()
		summary = summarize(c.session, StatusCancelled)
	}
	var body io.ReadCloser
	if h != nil {
		h.cancelRequested = true
		body = h.body
	}
	c.publishLocked()

	if h != nil {
		h.cancel()
		if body != nil {
			_ = body.Close()
		}
		c.logger.Info("session cancelled", slog.String("session_id", h.id))
		c.record("session finished", func(ctx context.Context) error {
			return c.recorder.SessionFinished(ctx, h.id, summary)
		})
	}

	go c.cancelSpeech()
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close cancels any live session and waits for its read loop to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	live := c.processing
	c.mu.Unlock()

	if live {
		c.Cancel()
	}
	c.stop()
	c.wg.Wait()
}

func (c *Controller) run(h *handle, query string) {
	defer c.wg.Done()
	defer h.cancel()

	ctx, span := tracer.Start(h.ctx, "transcript session", trace.WithAttributes(attribute.String("session.id", h.id)))
	defer span.End()

	add(ctx, c.inst.sessions)
	c.record("session started", func(ctx context.Context) error {
		return c.recorder.SessionStarted(ctx, h.id, query)
	})

	body, err := c.transport.Open(ctx, query)
	if err != nil {
		c.fail(ctx, h, &TransportError{Op: "open", Err: err})
		return
	}
	if !c.attach(h, body) {
		_ = body.Close()
		return
	}
	defer body.Close()

	for ev, err := range sse.NewReader(body).Events() {
		if err != nil {
			c.fail(ctx, h, &TransportError{Op: "read", Err: err})
			return
		}
		if !c.apply(ctx, h, ev) {
			return
		}
	}
	c.endOfStream(ctx, h)
}

func (c *Controller) attach(h *handle, body io.ReadCloser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != h {
		return false
	}
	h.body = body
	return true
}

// apply runs one event against the session if h is still the active handle.
// It reports whether the read loop should continue.
func (c *Controller) apply(ctx context.Context, h *handle, ev sse.Event) bool {
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		c.logger.Debug("dropping event from superseded stream", slog.String("session_id", h.id), slog.String("event", ev.Name))
		return false
	}
	sess := c.session
	out, err := sess.Apply(ev)
	if out.Terminal {
		if err == nil {
			sess.Close()
		}
		c.releaseLocked()
	}
	c.speaking = c.processing && sess.State == transcript.StateSpeaking
	var summary Summary
	if out.Terminal {
		summary = summarize(sess, StatusCompleted)
		if err != nil {
			summary.Status = StatusFailed
		}
	}
	c.publishLocked()

	c.observe(ctx, h, out, err)
	if !out.Ignored {
		c.record("event applied", func(ctx context.Context) error {
			return c.recorder.EventApplied(ctx, h.id, ev)
		})
	}
	if out.Terminal {
		c.record("session finished", func(ctx context.Context) error {
			return c.recorder.SessionFinished(ctx, h.id, summary)
		})
	}
	return !out.Terminal
}

func (c *Controller) observe(ctx context.Context, h *handle, out transcript.Outcome, err error) {
	log := c.logger.With(slog.String("session_id", h.id))
	switch out.Match.Reason {
	case transcript.ReasonMatched:
		add(ctx, c.inst.matches)
		log.Debug("word aligned", slog.String("word", out.Match.Word), slog.Int("index", out.Match.Index), slog.Int("last_spoken", out.Match.LastSpoken))
	case transcript.ReasonMiss:
		add(ctx, c.inst.misses)
		log.Warn("spoken word not found ahead of cursor", slog.String("word", out.Match.Normalized), slog.Int("from", out.Match.From))
	case transcript.ReasonEmpty, transcript.ReasonNoWord:
		log.Debug("empty word_highlight signal")
	}
	if out.Ignored {
		log.Debug("event ignored", slog.String("event", out.Event))
	}
	if err != nil {
		add(ctx, c.inst.errors, attribute.String("kind", errorKind(err)))
		trace.SpanFromContext(ctx).RecordError(err)
		trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
		log.Warn("session terminated by stream event", slog.String("event", out.Event), slogError(err))
	} else if out.Terminal {
		log.Info("stream ended")
	}
}

// fail reports err unless the stream was already superseded or cancelled.
func (c *Controller) fail(ctx context.Context, h *handle, err error) {
	c.mu.Lock()
	if c.active != h || h.cancelRequested {
		c.mu.Unlock()
		c.logger.Debug("stream closed after cancellation", slog.String("session_id", h.id), slogError(err))
		return
	}
	c.session.Fail(err)
	c.releaseLocked()
	summary := summarize(c.session, StatusFailed)
	c.publishLocked()

	add(ctx, c.inst.errors, attribute.String("kind", errorKind(err)))
	trace.SpanFromContext(ctx).RecordError(err)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
	c.logger.Warn("session failed", slog.String("session_id", h.id), slogError(err))
	c.record("session finished", func(ctx context.Context) error {
		return c.recorder.SessionFinished(ctx, h.id, summary)
	})
}

// endOfStream handles a body that closed without a stream_end event.
func (c *Controller) endOfStream(ctx context.Context, h *handle) {
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}
	if err := c.session.End(); err != nil {
		c.logger.Debug("end of stream", slog.String("session_id", h.id), slogError(err))
	}
	c.session.Close()
	c.releaseLocked()
	summary := summarize(c.session, StatusCompleted)
	c.publishLocked()

	c.logger.Warn("stream closed without stream_end", slog.String("session_id", h.id))
	c.record("session finished", func(ctx context.Context) error {
		return c.recorder.SessionFinished(ctx, h.id, summary)
	})
}

func (c *Controller) releaseLocked() {
	c.active = nil
	c.processing = false
	c.speaking = false
}

func (c *Controller) cancelSpeech() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.cancelTimeout)
	defer cancel()
	if err := c.transport.CancelSpeech(ctx); err != nil {
		c.logger.Warn("failed to cancel speech", slogError(err))
	}
}

func (c *Controller) record(what string, fn func(context.Context) error) {
	if c.recorder == nil {
		return
	}
	if err := fn(context.WithoutCancel(c.ctx)); err != nil {
		c.logger.Warn("failed to record "+what, slogError(err))
	}
}

// publishLocked must be called with c.mu held and releases it. Observers run
// under c.notify so they see changes in the order they were made.
func (c *Controller) publishLocked() {
	snap := c.snapshotLocked()
	c.notify.Lock()
	c.mu.Unlock()
	defer c.notify.Unlock()
	for _, o := range c.observers {
		o(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:             transcript.StateIdle.String(),
		Processing:        c.processing,
		Speaking:          c.speaking,
		LastSpoken:        -1,
		CurrentlySpeaking: -1,
	}
	s := c.session
	if s == nil {
		return snap
	}
	n := len(s.Tokens)
	snap.SessionID = s.ID
	snap.State = s.State.String()
	// Tokens are append-only, so snapshots can share the backing array.
	snap.Tokens = s.Tokens[:n:n]
	snap.LastSpoken = s.Cursor.LastSpoken
	snap.CurrentlySpeaking = s.Cursor.CurrentlySpeaking
	snap.FullText = s.FullText
	if s.Err != nil {
		snap.Error = s.Err.Error()
	}
	return snap
}

func summarize(s *transcript.Session, status string) Summary {
	sum := Summary{Status: status, Tokens: len(s.Tokens), LastSpoken: s.Cursor.LastSpoken}
	if s.Err != nil {
		sum.Error = s.Err.Error()
	}
	return sum
}

func errorKind(err error) string {
	var te *TransportError
	switch {
	case errors.As(err, &te):
		return "transport"
	case isParse(err):
		return "parse"
	case isSemantic(err):
		return "server"
	default:
		return "internal"
	}
}

func isParse(err error) bool {
	_, ok := transcript.AsParseError(err)
	return ok
}

func isSemantic(err error) bool {
	_, ok := transcript.AsSemanticError(err)
	return ok
}
