package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/backend"
	"github.com/loqalabs/loqa-highlight/internal/controller"
	"github.com/loqalabs/loqa-highlight/internal/render"
	"github.com/loqalabs/loqa-highlight/internal/runtime"
	"github.com/spf13/cobra"
)

var withReference bool

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask one question and follow the spoken answer",
	Long: `Start a single session against the configured backend and redraw the
transcript as words are spoken. Press Ctrl-C to cancel the session.

Example:
  loqa-highlight ask --reference "why is the sky blue?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		if withReference {
			srv, err := runtime.NewReferenceServer(cfg, logger)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("reference backend failed", slog.String("error", err.Error()))
				}
			}()
			defer srv.Close()
			cfg.Backend.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Reference.Bind, cfg.Reference.Port)
			if err := waitReachable(cfg.Backend.BaseURL+"/healthz", 3*time.Second); err != nil {
				return err
			}
		}

		done := make(chan controller.Snapshot, 1)
		view := &terminalView{out: cmd.OutOrStdout(), r: render.New()}
		ctrl := controller.New(context.Background(), backend.NewClient(cfg.Backend),
			controller.WithLogger(logger),
			controller.WithObserver(view.draw),
			controller.WithObserver(func(s controller.Snapshot) {
				if s.SessionID != "" && !s.Processing {
					select {
					case done <- s:
					default:
					}
				}
			}))
		defer ctrl.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, err := ctrl.Start(strings.Join(args, " ")); err != nil {
			return err
		}

		var final controller.Snapshot
		select {
		case final = <-done:
		case <-ctx.Done():
			ctrl.Cancel()
			final = ctrl.Snapshot()
		}
		fmt.Fprintln(view.out)
		if final.Error != "" {
			return errors.New(final.Error)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&withReference, "reference", false, "start the reference backend in-process and use it")
}

type terminalView struct {
	out io.Writer
	r   *render.Renderer
}

func (v *terminalView) draw(s controller.Snapshot) {
	if v.out == os.Stdout {
		fmt.Fprint(v.out, "\x1b[H\x1b[2J")
	}
	fmt.Fprintf(v.out, "%s\n\n%s\n", v.r.Transcript(s), v.r.StatusLine(s))
}

func waitReachable(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("reference backend not reachable: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
