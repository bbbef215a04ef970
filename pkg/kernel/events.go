package kernel

import (
	"fmt"
	"net/http"
	"time"
)

// sseKeepAlive is how often an idle stream gets a comment line so proxies
// keep the connection open.
const sseKeepAlive = 25 * time.Second

// handleOwnerSSE streams an owner's progress, stat, status and notification
// events as they are published.
// GET /v1/owners/{id}/events
func (s *Server) handleOwnerSSE(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so no event published after the
	// client sees 200 is lost.
	ch, unsub := s.Events.Subscribe(ownerID)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
