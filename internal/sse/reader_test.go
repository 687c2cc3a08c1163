package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestParseRetainsIncompleteTail(t *testing.T) {
	events, rest := Parse("event: chunk\ndata: \"Hello \"\n\nevent: chunk\ndata: \"wor")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "chunk" || events[0].Data != `"Hello "` {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if rest != "event: chunk\ndata: \"wor" {
		t.Fatalf("unexpected remainder %q", rest)
	}

	events, rest = Parse(rest + "ld.\"\n\n")
	if len(events) != 1 || events[0].Data != `"world."` {
		t.Fatalf("unexpected events after completion: %+v", events)
	}
	if rest != "" {
		t.Fatalf("expected empty remainder, got %q", rest)
	}
}

func TestParseDefaultsAndTrimming(t *testing.T) {
	events, _ := Parse("data:   \"x\"  \nid: 7\n\nevent:  word_highlight \ndata: \"a\"\ndata: \"b\"\n\n")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != DefaultEventName || events[0].Data != `"x"` {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Name != "word_highlight" || events[1].Data != `"b"` {
		t.Fatalf("expected last data line to win, got %+v", events[1])
	}
}

func TestReaderDecodesRunesSplitAcrossReads(t *testing.T) {
	input := "event: chunk\ndata: \"héllo wörld ✓\"\n\nevent: stream_end\ndata: {}\n\n"
	r := NewReader(iotest.OneByteReader(strings.NewReader(input)))

	first, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first.Name != "chunk" || first.Data != `"héllo wörld ✓"` {
		t.Fatalf("unexpected event: %+v", first)
	}
	second, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if second.Name != "stream_end" {
		t.Fatalf("expected stream_end, got %q", second.Name)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderReplacesInvalidBytes(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("data: \"a\xffb\"\n\n")))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Data != "\"a�b\"" {
		t.Fatalf("expected replacement character, got %q", ev.Data)
	}
}

func TestReaderDropsUnterminatedRecordAtEOF(t *testing.T) {
	r := NewReader(strings.NewReader("event: chunk\ndata: \"a\"\n\nevent: chunk\ndata: \"b\""))
	var names []string
	for ev, err := range r.Events() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		names = append(names, ev.Data)
	}
	if len(names) != 1 || names[0] != `"a"` {
		t.Fatalf("expected only the complete record, got %v", names)
	}
	if r.buffered() != "event: chunk\ndata: \"b\"" {
		t.Fatalf("unexpected buffered text %q", r.buffered())
	}
}

func TestEventsYieldsReadError(t *testing.T) {
	boom := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("event: chunk\ndata: \"a\"\n\n"), iotest.ErrReader(boom))
	r := NewReader(src)

	var got []Event
	var gotErr error
	for ev, err := range r.Events() {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event before the error, got %d", len(got))
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("expected %v, got %v", boom, gotErr)
	}
}

func TestEncodeJSONIsReadable(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, "chunk", "line one\nline two"); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := Encode(&buf, Event{Name: DefaultEventName, Data: "1"}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	events, rest := Parse(buf.String())
	if rest != "" {
		t.Fatalf("unexpected remainder %q", rest)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != "chunk" || events[0].Data != `"line one\nline two"` {
		t.Fatalf("unexpected chunk record: %+v", events[0])
	}
	if events[1].Name != DefaultEventName || events[1].Data != "1" {
		t.Fatalf("unexpected default record: %+v", events[1])
	}
}

func TestEncodeRejectsMultilineData(t *testing.T) {
	if err := Encode(io.Discard, Event{Name: "chunk", Data: "a\nb"}); err == nil {
		t.Fatal("expected error for multiline data")
	}
}
