// Package transcript holds the token buffer and highlight cursor of one
// streamed response, and the step functions that advance them.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-highlight/internal/protocol"
	"github.com/loqalabs/loqa-highlight/internal/sse"
)

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateSpeaking
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateSpeaking:
		return "speaking"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Token is one tokenizer unit with its position in the session.
type Token struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Cursor tracks how far speech has progressed. -1 means none.
type Cursor struct {
	LastSpoken        int `json:"last_spoken"`
	CurrentlySpeaking int `json:"currently_speaking"`
}

// NoCursor is the cursor of a fresh session.
var NoCursor = Cursor{LastSpoken: -1, CurrentlySpeaking: -1}

// Session is the state of a single request/response exchange. It is not safe
// for concurrent use; the owner serializes calls.
type Session struct {
	ID       string
	Tokens   []Token
	Cursor   Cursor
	State    State
	FullText string
	Err      error
}

// NewSession returns a session that is ready to receive the stream.
func NewSession(id string) *Session {
	return &Session{
		ID:     id,
		Cursor: NoCursor,
		State:  StateStreaming,
	}
}

var errInvalidTransition = errors.New("invalid state transition")

func (s *Session) transition(to State) error {
	from := s.State
	ok := false
	switch to {
	case StateIdle:
		ok = true
	case StateStreaming:
		ok = from == StateIdle
	case StateSpeaking:
		ok = from == StateStreaming || from == StateSpeaking
	case StateTerminating:
		ok = from == StateStreaming || from == StateSpeaking
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, from, to)
	}
	s.State = to
	return nil
}

// Done reports whether the session stopped accepting events.
func (s *Session) Done() bool {
	return s.State == StateIdle || s.State == StateTerminating
}

// AppendChunk tokenizes only the new text and appends it with continuing
// indices.
func (s *Session) AppendChunk(text string) []Token {
	parts := Tokenize(text)
	if len(parts) == 0 {
		return nil
	}
	start := len(s.Tokens)
	for i, part := range parts {
		s.Tokens = append(s.Tokens, Token{Index: start + i, Text: part})
	}
	return s.Tokens[start:]
}

// End moves the session to Terminating after stream_end. LastSpoken is kept
// so the full response can stay highlighted.
func (s *Session) End() error {
	if err := s.transition(StateTerminating); err != nil {
		return err
	}
	s.Cursor.CurrentlySpeaking = -1
	return nil
}

// Close completes termination once the owner released the stream.
func (s *Session) Close() {
	s.Cursor.CurrentlySpeaking = -1
	_ = s.transition(StateIdle)
}

// Fail records a terminal error.
func (s *Session) Fail(err error) {
	s.Err = err
	s.Close()
}

// Cancel stops the session on user request and clears any reported error.
func (s *Session) Cancel() {
	s.Err = nil
	s.Close()
}

// Outcome describes what applying one event did.
type Outcome struct {
	Event    string
	Appended []Token
	Match    Match
	Terminal bool
	Ignored  bool
}

// Apply advances the session by one stream event. A returned error has
// already terminated the session.
func (s *Session) Apply(ev sse.Event) (Outcome, error) {
	out := Outcome{Event: ev.Name, Match: Match{Index: -1, Reason: ReasonNone}}
	if s.Done() || ev.Data == "" {
		out.Ignored = true
		return out, nil
	}
	if !json.Valid([]byte(ev.Data)) {
		return s.fail(out, &ParseError{Event: ev.Name, Data: ev.Data, Err: errors.New("invalid JSON")})
	}

	switch ev.Name {
	case protocol.EventChunk:
		text, err := decodeText(ev)
		if err != nil {
			return s.fail(out, err)
		}
		out.Appended = s.AppendChunk(text)
	case protocol.EventFullText:
		text, err := decodeText(ev)
		if err != nil {
			return s.fail(out, err)
		}
		s.FullText = text
	case protocol.EventWordHighlight:
		word, err := decodeText(ev)
		if err != nil {
			return s.fail(out, err)
		}
		if s.State == StateStreaming {
			_ = s.transition(StateSpeaking)
		}
		out.Match = s.Highlight(word)
	case protocol.EventStreamEnd:
		if err := s.End(); err != nil {
			return s.fail(out, err)
		}
		out.Terminal = true
	case protocol.EventError:
		return s.fail(out, &SemanticError{Message: decodeMessage(ev)})
	default:
		out.Ignored = true
	}
	return out, nil
}

func (s *Session) fail(out Outcome, err error) (Outcome, error) {
	s.Fail(err)
	out.Terminal = true
	return out, err
}

// decodeText accepts a JSON string or null.
func decodeText(ev sse.Event) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(ev.Data), &v); err != nil {
		return "", &ParseError{Event: ev.Name, Data: ev.Data, Err: err}
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		return "", &ParseError{Event: ev.Name, Data: ev.Data, Err: fmt.Errorf("expected string, got %T", v)}
	}
}

// decodeMessage prefers a JSON string payload and falls back to the raw
// JSON text for other values.
func decodeMessage(ev sse.Event) string {
	var msg string
	if err := json.Unmarshal([]byte(ev.Data), &msg); err == nil && msg != "" {
		return msg
	}
	return ev.Data
}
