package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/loqalabs/loqa-highlight/internal/protocol"
	"github.com/loqalabs/loqa-highlight/internal/sse"
)

func testConfig(url string) config.BackendConfig {
	cfg := config.Default().Backend
	cfg.BaseURL = url
	return cfg
}

func TestOpenStreamsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("unexpected accept header %q", got)
		}
		var req protocol.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt != "hello?" {
			t.Errorf("unexpected body %+v (%v)", req, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_ = sse.EncodeJSON(w, protocol.EventChunk, "Hi")
		_ = sse.EncodeJSON(w, protocol.EventStreamEnd, protocol.StreamEnd{Reason: "complete"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL + "/"))
	body, err := c.Open(context.Background(), "hello?")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer body.Close()

	var names []string
	for ev, err := range sse.NewReader(body).Events() {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		names = append(names, ev.Name)
	}
	if strings.Join(names, ",") != "chunk,stream_end" {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestOpenReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Open(context.Background(), "q")
	var se *StatusError
	if !errors.As(err, &se) || se.Body != "busy" {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOpenAbortsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_ = sse.EncodeJSON(w, protocol.EventChunk, "partial")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	body, err := NewClient(testConfig(srv.URL)).Open(ctx, "q")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer body.Close()

	r := sse.NewReader(body)
	if ev, err := r.Next(); err != nil || ev.Name != protocol.EventChunk {
		t.Fatalf("expected first chunk, got %+v (%v)", ev, err)
	}
	cancel()
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected read to abort, got %v", err)
	}
}

func TestCancelSpeech(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cancel_tts" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if err := c.CancelSpeech(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected one cancel request, got %d", n)
	}

	c.cancelPath = "/missing"
	err := c.CancelSpeech(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Op != "cancel" || se.Body != "404 page not found" {
		t.Fatalf("expected status error with body, got %v", err)
	}
}
