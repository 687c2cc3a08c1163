// Package sse decodes and encodes the blank-line delimited event stream used
// between the chat backend and the transcript controller.
package sse

import (
	"errors"
	"io"
	"iter"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEventName is used for records without an event: line.
const DefaultEventName = "message"

const (
	delimiter   = "\n\n"
	eventPrefix = "event:"
	dataPrefix  = "data:"
	readSize    = 4096
)

// Event is one named record decoded from the stream.
type Event struct {
	Name string
	Data string
}

// Parse extracts every complete record from buf and returns the undelimited
// remainder, which must be fed back in front of the next read.
func Parse(buf string) ([]Event, string) {
	var events []Event
	for {
		idx := strings.Index(buf, delimiter)
		if idx < 0 {
			return events, buf
		}
		events = append(events, parseRecord(buf[:idx]))
		buf = buf[idx+len(delimiter):]
	}
}

func parseRecord(record string) Event {
	ev := Event{Name: DefaultEventName}
	for _, line := range strings.Split(record, "\n") {
		switch {
		case strings.HasPrefix(line, eventPrefix):
			ev.Name = strings.TrimSpace(line[len(eventPrefix):])
		case strings.HasPrefix(line, dataPrefix):
			ev.Data = strings.TrimSpace(line[len(dataPrefix):])
		}
	}
	return ev
}

// Reader yields events from a byte stream. Decoding is stateful: a UTF-8
// sequence split across two reads is reassembled, and invalid bytes become
// U+FFFD. A Reader is not restartable.
type Reader struct {
	src     io.Reader
	scratch []byte
	buf     string
	pending []Event
	err     error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src:     transform.NewReader(r, unicode.UTF8.NewDecoder()),
		scratch: make([]byte, readSize),
	}
}

// Next blocks until a complete record is available. It returns io.EOF once
// the underlying stream ends; an unterminated trailing record is dropped.
func (r *Reader) Next() (Event, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Event{}, r.err
		}
		n, err := r.src.Read(r.scratch)
		if n > 0 {
			var events []Event
			events, r.buf = Parse(r.buf + string(r.scratch[:n]))
			r.pending = append(r.pending, events...)
		}
		if err != nil {
			r.err = err
		}
	}
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

// buffered returns the undelimited text held for the next read.
func (r *Reader) buffered() string {
	return r.buf
}

// Events returns the stream as a lazy sequence in arrival order. A clean end
// of stream terminates the sequence; any other read error is yielded once.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Event{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
