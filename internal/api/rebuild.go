package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/papyr-ai/papyr/internal/pipeline"
)

// Rebuilder starts background index rebuilds and reports their state.
// *pipeline.Orchestrator satisfies it.
type Rebuilder interface {
	Start(ctx context.Context, req pipeline.Request) (string, error)
	Status() pipeline.Status
}

type rebuildHandler struct {
	rebuilder Rebuilder
	logger    *slog.Logger
}

type rebuildAccepted struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// start serves POST /api/v1/rebuild. The body may override the corpus
// directory and chunking for this run; an empty body uses the configured
// defaults. A rebuild is accepted (202) and runs in the background; a
// second request while one is running gets 409.
func (h *rebuildHandler) start(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}

	jobID, err := h.rebuilder.Start(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrRebuildInProgress) {
			writeError(w, http.StatusConflict, "rebuild_in_progress", "a rebuild is already running")
			return
		}
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("starting rebuild",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, rebuildAccepted{
		JobID: jobID,
		State: pipeline.StateRebuilding.String(),
	})
}

// statusResponse mirrors pipeline.Status with the state as a string.
type statusResponse struct {
	pipeline.Status
	State string `json:"state"`
}

// status serves GET /api/v1/rebuild/status.
func (h *rebuildHandler) status(w http.ResponseWriter, _ *http.Request) {
	s := h.rebuilder.Status()
	writeJSON(w, http.StatusOK, statusResponse{Status: s, State: s.State.String()})
}
