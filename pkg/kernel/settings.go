package kernel

import (
	"net/http"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// handleListActions describes the registered actions with display overrides
// from settings applied.
// GET /v1/actions
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	cfg := s.Settings.GetConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": s.Registry.Describe(cfg.Actions),
	})
}

// GET /v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings.GetConfig())
}

// handleUpdateSettings replaces the runtime settings. Limits and plan flags
// apply to the next unit any running job performs.
// PUT /v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update domain.AppConfig
	if !decodeBody(w, r, &update) {
		return
	}
	if err := s.Settings.UpdateConfig(r.Context(), &update); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Settings.GetConfig())
}
