package kernel

import (
	"errors"
	"net/http"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/services"
)

type enqueueJobRequest struct {
	Action     domain.ActionKind  `json:"action"`
	OwnerID    domain.OwnerID     `json:"owner_id"`
	Params     domain.Params      `json:"params,omitempty"`
	ScenarioID *domain.ScenarioID `json:"scenario_id,omitempty"`
	RunAt      *time.Time         `json:"run_at,omitempty"`
}

// handleEnqueueJob persists and queues a job.
// POST /v1/jobs
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := s.Jobs.Enqueue(r.Context(), services.EnqueueRequest{
		Action:     req.Action,
		OwnerID:    req.OwnerID,
		Params:     req.Params,
		ScenarioID: req.ScenarioID,
		RunAt:      req.RunAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GET /v1/jobs?owner_id=&limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner := domain.OwnerID(r.URL.Query().Get("owner_id"))

	jobs, err := s.Jobs.List(r.Context(), owner, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.JobRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.Jobs.Get(r.Context(), domain.JobID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleAbortJob cancels a pending or running job. Aborting a finished job
// answers 409 with the record as it stands.
// POST /v1/jobs/{id}/abort
func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.Jobs.Abort(r.Context(), domain.JobID(id))
	if errors.Is(err, domain.ErrInvalidTransition) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"job":   job,
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
