package kernel

import (
	"net/http"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// handleSaveScenario creates or replaces a scenario and returns its graph
// report. Steps may omit their id; the map key is used.
// POST /v1/scenarios
func (s *Server) handleSaveScenario(w http.ResponseWriter, r *http.Request) {
	var sc domain.Scenario
	if !decodeBody(w, r, &sc) {
		return
	}
	for id, step := range sc.Steps {
		if step.ID == "" {
			step.ID = id
			sc.Steps[id] = step
		}
	}

	report, err := s.Scenarios.Save(r.Context(), &sc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": sc,
		"report":   report,
	})
}

// GET /v1/scenarios?owner_id=
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	owner := domain.OwnerID(r.URL.Query().Get("owner_id"))
	list, err := s.Scenarios.List(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Scenario{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": list,
		"count":     len(list),
	})
}

// GET /v1/scenarios/{id}
func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.Scenarios.Get(r.Context(), domain.ScenarioID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// DELETE /v1/scenarios/{id}
func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Scenarios.Delete(r.Context(), domain.ScenarioID(id)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runScenarioRequest struct {
	RunAt *time.Time `json:"run_at,omitempty"`
}

// handleRunScenario queues a run_scenario job now or at run_at.
// POST /v1/scenarios/{id}/run
func (s *Server) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req runScenarioRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	job, err := s.Scenarios.Trigger(r.Context(), domain.ScenarioID(id), req.RunAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
