package web

import (
	"net/http"
	"time"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/logctx"
)

// handleMonitorActive lists every busy session with full detail for the
// observation surface.
func (s *Server) handleMonitorActive(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.ListActive(r.Context())
	if err != nil {
		logctx.From(r.Context()).Error("list active downloads", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	now := time.Now().UTC()
	out := make([]APIActiveDownload, 0, len(sessions))
	for _, sess := range sessions {
		var elapsed int64
		if started, err := time.Parse(time.RFC3339, sess.StartedAt); err == nil {
			elapsed = now.Sub(started).Milliseconds()
		}
		out = append(out, APIActiveDownload{
			ID:           sess.ID,
			UserToken:    sess.UserToken,
			ObjectID:     sess.ObjectID,
			ObjectName:   sess.ObjectName,
			Progress:     sess.Progress,
			CurrentChunk: sess.CurrentChunk,
			TotalChunks:  sess.TotalChunks,
			StartedAt:    sess.StartedAt,
			ElapsedMs:    elapsed,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMonitorUsers groups all download history by user for the observation
// surface.
func (s *Server) handleMonitorUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.mgr.ListUsers(r.Context())
	if err != nil {
		logctx.From(r.Context()).Error("list users", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, toAPIUserDownloads(users))
}

// handleMonitorStream subscribes the caller to the monitor hub group and
// forwards every user's progress events over SSE.
func (s *Server) handleMonitorStream(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := s.hub.SubscribeMonitor()
	defer unsubscribe()
	s.serveSSE(w, r, events)
}
