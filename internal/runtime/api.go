package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-highlight/internal/controller"
	"github.com/loqalabs/loqa-highlight/internal/eventstore"
	"github.com/loqalabs/loqa-highlight/internal/protocol"
)

type sessionAPI struct {
	ctrl   *controller.Controller
	store  *eventstore.Store
	logger *slog.Logger
}

func (a *sessionAPI) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.handleStart)
	mux.HandleFunc("DELETE /v1/sessions/active", a.handleCancel)
	mux.HandleFunc("GET /v1/state", a.handleState)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleSession)
	mux.HandleFunc("GET /v1/sessions/{id}/events", a.handleEvents)
}

func (a *sessionAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	var req protocol.ControlStart
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ControlReply{Error: "invalid request body"})
		return
	}
	id, err := a.ctrl.Start(req.Query)
	switch {
	case errors.Is(err, controller.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, protocol.ControlReply{Error: err.Error()})
	case errors.Is(err, controller.ErrBusy):
		writeJSON(w, http.StatusConflict, protocol.ControlReply{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, protocol.ControlReply{Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, protocol.ControlReply{OK: true, SessionID: id})
	}
}

func (a *sessionAPI) handleCancel(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (a *sessionAPI) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *sessionAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, eventstore.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("failed to load session", slogError(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *sessionAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := a.store.ListSessionEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.logger.Error("failed to list session events", slogError(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
