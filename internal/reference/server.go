// Package reference is a self-contained chat backend that speaks the
// transcript stream protocol. It streams generated text, then paces word
// marks over it the way a speech engine would.
package reference

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/loqalabs/loqa-highlight/internal/llm"
	"github.com/loqalabs/loqa-highlight/internal/protocol"
	"github.com/loqalabs/loqa-highlight/internal/speech"
	"github.com/loqalabs/loqa-highlight/internal/sse"
)

type Server struct {
	generator llm.Generator
	marker    speech.Marker
	voice     string
	maxTokens int
	logger    *slog.Logger

	mu       sync.Mutex
	speaking map[string]context.CancelFunc
}

func New(cfg config.ReferenceConfig, generator llm.Generator, marker speech.Marker, logger *slog.Logger) *Server {
	return &Server{
		generator: generator,
		marker:    marker,
		voice:     cfg.Voice,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With(slog.String("component", "reference-backend")),
		speaking:  make(map[string]context.CancelFunc),
	}
}

// Routes registers the chat and speech-cancel endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux, chatPath, cancelPath string) {
	mux.HandleFunc("POST "+chatPath, s.handleChat)
	mux.HandleFunc("POST "+cancelPath, s.handleCancel)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "prompt required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	log := s.logger.With(slog.String("session_id", id))
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(name string, v any) error {
		if err := sse.EncodeJSON(w, name, v); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx := r.Context()
	var text strings.Builder
	err := s.generator.Generate(ctx, llm.Request{SessionID: id, Prompt: req.Prompt, MaxTokens: s.maxTokens}, func(c llm.Chunk) error {
		if c.Content == "" {
			return nil
		}
		text.WriteString(c.Content)
		return emit(protocol.EventChunk, c.Content)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("client went away during generation")
			return
		}
		log.Warn("generation failed", slog.String("error", err.Error()))
		_ = emit(protocol.EventError, err.Error())
		return
	}
	if err := emit(protocol.EventFullText, text.String()); err != nil {
		return
	}

	reason, err := s.speak(ctx, id, text.String(), func(m speech.Mark) error {
		return emit(protocol.EventWordHighlight, m.Word)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("speech failed", slog.String("error", err.Error()))
		_ = emit(protocol.EventError, err.Error())
		return
	}
	_ = emit(protocol.EventStreamEnd, protocol.StreamEnd{Reason: reason})
	log.Info("stream finished", slog.String("reason", reason))
}

// speak forwards marks until speech finishes or is cancelled through
// handleCancel. It returns the stream_end reason.
func (s *Server) speak(ctx context.Context, id, text string, forward func(speech.Mark) error) (string, error) {
	speechCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.speaking[id] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.speaking, id)
		s.mu.Unlock()
		cancel()
	}()

	marks, errs := s.marker.Mark(speechCtx, speech.Request{SessionID: id, Text: text, Voice: s.voice})
	for m := range marks {
		if err := forward(m); err != nil {
			cancel()
			for range marks {
			}
			return "", err
		}
	}
	err := <-errs
	switch {
	case err == nil:
		return "complete", nil
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		return "cancelled", nil
	default:
		return "", err
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	n := s.CancelSpeech()
	s.logger.Info("speech cancel requested", slog.Int("active", n))
	w.WriteHeader(http.StatusNoContent)
}

// CancelSpeech stops every in-progress speech run and reports how many
// there were.
func (s *Server) CancelSpeech() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.speaking {
		cancel()
	}
	return len(s.speaking)
}
