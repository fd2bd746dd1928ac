package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin enforcement belongs to the reverse proxy
	},
}

// handleEvents streams job snapshots over a websocket until the job
// reaches a terminal status. Streaming is a convenience on top of the
// polling contract, not a replacement for it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	if _, err := s.manager.Get(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	interval := 500 * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus string
	lastCurrent := -1

	for {
		job, err := s.manager.Get(r.Context(), jobID)
		if err != nil {
			return
		}

		// only push when something observable changed
		if string(job.Status) != lastStatus || job.ProgressCurrent != lastCurrent {
			lastStatus = string(job.Status)
			lastCurrent = job.ProgressCurrent

			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(jobToPayload(job)); err != nil {
				return
			}
		}

		if job.Status.Terminal() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
