package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/runs"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// RunStore reads the run ledger.
type RunStore interface {
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, limit int) ([]*runs.Run, error)
}

type RunsHandler struct {
	store RunStore
}

func NewRunsHandler(store RunStore) *RunsHandler {
	return &RunsHandler{store: store}
}

// ListRuns returns recent runs, newest first
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		jsonError(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*runs.Run{}
	}
	jsonResponse(w, list, http.StatusOK)
}

// GetRun returns a single run by ID
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, "missing run ID", http.StatusBadRequest)
		return
	}

	run, err := h.store.Get(r.Context(), id)
	if errors.Is(err, runs.ErrNotFound) {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to load run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, run, http.StatusOK)
}
