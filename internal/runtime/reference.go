package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/loqalabs/loqa-highlight/internal/llm"
	"github.com/loqalabs/loqa-highlight/internal/reference"
	"github.com/loqalabs/loqa-highlight/internal/speech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewReferenceServer builds the bundled chat backend on the configured
// reference bind address. It serves the backend's chat and cancel paths.
func NewReferenceServer(cfg config.Config, logger *slog.Logger) (*http.Server, error) {
	generator, err := llm.FromConfig(cfg.Reference)
	if err != nil {
		return nil, fmt.Errorf("reference generator: %w", err)
	}
	marker, err := speech.FromConfig(cfg.Reference)
	if err != nil {
		return nil, fmt.Errorf("reference marker: %w", err)
	}

	mux := http.NewServeMux()
	reference.New(cfg.Reference, generator, marker, logger).Routes(mux, cfg.Backend.ChatPath, cfg.Backend.CancelPath)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Reference.Bind, cfg.Reference.Port),
		Handler:           otelhttp.NewHandler(mux, "reference"),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
