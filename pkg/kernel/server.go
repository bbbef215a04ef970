package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/routers"
	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/socialpilot/internal/config"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
	"github.com/manthysbr/socialpilot/internal/core/services"
)

// Deps are the services the HTTP ingress fronts.
type Deps struct {
	Jobs          *services.JobService
	Scenarios     *services.ScenarioService
	Owners        *config.OwnerVault
	Notifications ports.NotificationStore
	Registry      *services.ActionRegistry
	Settings      *config.SettingsStore
	Events        *services.EventBus
}

type Server struct {
	logger *slog.Logger
	router routers.Router
	Deps
}

func NewServer(ctx context.Context, logger *slog.Logger, deps Deps) (*Server, error) {
	router, err := loadRouter(ctx)
	if err != nil {
		return nil, err
	}
	return &Server{logger: logger, router: router, Deps: deps}, nil
}

// Handler returns the http.Handler for the server.
// Every route is checked against the embedded API document first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", s.handleEnqueueJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{id}/abort", s.handleAbortJob)

	mux.HandleFunc("PUT /v1/owners/{id}", s.handlePutOwner)
	mux.HandleFunc("GET /v1/owners/{id}/events", s.handleOwnerSSE)
	mux.HandleFunc("GET /v1/owners/{id}/notifications", s.handleListNotifications)

	mux.HandleFunc("POST /v1/scenarios", s.handleSaveScenario)
	mux.HandleFunc("GET /v1/scenarios", s.handleListScenarios)
	mux.HandleFunc("GET /v1/scenarios/{id}", s.handleGetScenario)
	mux.HandleFunc("DELETE /v1/scenarios/{id}", s.handleDeleteScenario)
	mux.HandleFunc("POST /v1/scenarios/{id}/run", s.handleRunScenario)

	mux.HandleFunc("GET /v1/actions", s.handleListActions)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	return validateRequests(s.router, mux)
}

// pathID binds the {id} path segment.
func pathID(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	return id, err
}

// queryLimit binds the optional ?limit= parameter.
func queryLimit(r *http.Request, fallback int) (int, error) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		return 0, err
	}
	if limit == nil {
		return fallback, nil
	}
	return *limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps service errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrScenarioNotFound),
		errors.Is(err, domain.ErrOwnerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParams),
		errors.Is(err, domain.ErrUnknownAction),
		errors.Is(err, domain.ErrInvalidScenario),
		errors.Is(err, config.ErrInvalidOwner),
		errors.Is(err, config.ErrInvalidSettings):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrFeatureDisabled):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrScenarioBusy):
		status = http.StatusConflict
	case errors.Is(err, services.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
