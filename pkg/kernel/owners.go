package kernel

import (
	"net/http"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// handlePutOwner creates or updates an owner. The path id wins over any id in
// the body; the response carries a masked token.
// PUT /v1/owners/{id}
func (s *Server) handlePutOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var owner domain.Owner
	if !decodeBody(w, r, &owner) {
		return
	}
	owner.ID = domain.OwnerID(id)

	saved, err := s.Owners.PutOwner(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// GET /v1/owners/{id}/notifications?limit=
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	notes, err := s.Notifications.ListNotifications(r.Context(), domain.OwnerID(id), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notes,
		"count":         len(notes),
	})
}
