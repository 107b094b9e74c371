package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c360studio/ralph/store"
	"github.com/c360studio/ralph/workflow"
)

// runView is the full inspection payload for one run.
type runView struct {
	Run         *workflow.Run               `json:"run"`
	Tasks       []workflow.Task             `json:"tasks"`
	Transitions []*workflow.StageTransition `json:"transitions"`
	Artifacts   []*workflow.Artifact        `json:"artifacts"`
	Decisions   []*workflow.MergeDecision   `json:"decisions"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage_error"})
		return
	}
	if runs == nil {
		runs = []*workflow.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run_not_found"})
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage_error"})
		return
	}

	view := runView{Run: run}
	if view.Tasks, err = s.store.ListTasks(ctx, runID); err != nil {
		s.logger.Error("list tasks failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage_error"})
		return
	}
	if view.Transitions, err = s.store.ListTransitions(ctx, runID); err != nil {
		s.logger.Error("list transitions failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage_error"})
		return
	}
	if view.Artifacts, err = s.store.ListArtifacts(ctx, runID); err != nil {
		s.logger.Error("list artifacts failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage_error"})
		return
	}
	if view.Decisions, err = s.store.ListMergeDecisions(ctx, runID); err != nil {
		s.logger.Error("list decisions failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage_error"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}
