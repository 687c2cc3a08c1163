// Package relay mirrors controller state onto the NATS bus and accepts
// start/cancel commands from it.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-highlight/internal/bus"
	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/loqalabs/loqa-highlight/internal/controller"
	"github.com/loqalabs/loqa-highlight/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Sessions is the part of the controller the relay drives.
type Sessions interface {
	Start(query string) (string, error)
	Cancel()
}

type Relay struct {
	cfg      config.RelayConfig
	bus      *bus.Client
	sessions Sessions
	subs     []*nats.Subscription
	logger   *slog.Logger
}

func New(cfg config.RelayConfig, busClient *bus.Client, sessions Sessions, logger *slog.Logger) *Relay {
	return &Relay{
		cfg:      cfg,
		bus:      busClient,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "relay")),
	}
}

func (r *Relay) Start() error {
	if !r.cfg.Enabled {
		return nil
	}
	start, err := r.bus.Conn().Subscribe(r.cfg.StartSubject, r.handleStart)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.cfg.StartSubject, err)
	}
	cancel, err := r.bus.Conn().Subscribe(r.cfg.CancelSubject, r.handleCancel)
	if err != nil {
		_ = start.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", r.cfg.CancelSubject, err)
	}
	r.subs = []*nats.Subscription{start, cancel}
	r.logger.Info("relay started",
		slog.String("state_subject", r.cfg.StateSubject),
		slog.String("start_subject", r.cfg.StartSubject),
		slog.String("cancel_subject", r.cfg.CancelSubject))
	return nil
}

func (r *Relay) Close() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

// Publish sends a snapshot on the state subject. It is meant to be
// registered as a controller observer.
func (r *Relay) Publish(snap controller.Snapshot) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	if err := r.bus.PublishJSON(r.cfg.StateSubject, snap); err != nil {
		r.logger.Warn("failed to publish highlight state", slog.String("error", err.Error()))
	}
}

func (r *Relay) handleStart(msg *nats.Msg) {
	var req protocol.ControlStart
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.logger.Warn("invalid start request", slog.String("error", err.Error()))
		r.reply(msg, protocol.ControlReply{Error: "invalid request"})
		return
	}
	id, err := r.sessions.Start(req.Query)
	if err != nil {
		r.reply(msg, protocol.ControlReply{Error: err.Error()})
		return
	}
	r.logger.Info("session started from bus", slog.String("session_id", id))
	r.reply(msg, protocol.ControlReply{OK: true, SessionID: id})
}

func (r *Relay) handleCancel(msg *nats.Msg) {
	r.sessions.Cancel()
	r.reply(msg, protocol.ControlReply{OK: true})
}

func (r *Relay) reply(msg *nats.Msg, rep protocol.ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		r.logger.Warn("failed to encode control reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("failed to send control reply", slog.String("error", err.Error()))
	}
}
