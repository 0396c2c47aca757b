package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// JobStatusGetter is the subset of JobQueue the job status handler needs.
type JobStatusGetter interface {
	GetStatus(id string) *model.Job
}

// JobStatus handles GET /job/{id}: returns the current Job snapshot, or 404
// if the id is unknown (never enqueued in this process — jobs are in-memory
// only and do not survive a restart).
func JobStatus(queue JobStatusGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "job id is required"})
			return
		}

		job := queue.GetStatus(id)
		if job == nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "job not found"})
			return
		}

		respondJSON(w, http.StatusOK, job)
	}
}
