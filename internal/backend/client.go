// Package backend talks to the chat service that streams transcripts as
// server-sent events.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/loqalabs/loqa-highlight/internal/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Op     string
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s returned status %s: %s", e.Op, e.Status, e.Body)
}

type Client struct {
	baseURL    string
	chatPath   string
	cancelPath string
	http       *http.Client
}

// NewClient builds a client from config. The HTTP client has no overall
// timeout because the event stream stays open for the whole answer.
func NewClient(cfg config.BackendConfig) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		transport.ResponseHeaderTimeout = time.Duration(cfg.ConnectTimeout) * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		chatPath:   cfg.ChatPath,
		cancelPath: cfg.CancelPath,
		http:       &http.Client{Transport: otelhttp.NewTransport(transport)},
	}
}

// Open posts the query and returns the event stream body. Cancelling ctx
// aborts the request and any pending read.
func (c *Client) Open(ctx context.Context, query string) (io.ReadCloser, error) {
	body, err := json.Marshal(protocol.ChatRequest{Prompt: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError("chat", resp)
	}
	return resp.Body, nil
}

// CancelSpeech asks the backend to stop speaking.
func (c *Client) CancelSpeech(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.cancelPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("cancel", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Status: resp.Status, Body: strings.TrimSpace(string(msg))}
}
