package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/download"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/hub"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/logctx"
)

// handleDownloadInit admits a new download for the caller's session token.
func (s *Server) handleDownloadInit(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var req struct {
		ObjectID string `json:"object_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ObjectID == "" {
		writeError(w, http.StatusBadRequest, "Object ID is required")
		return
	}

	res, err := s.mgr.Admit(r.Context(), userToken(r), req.ObjectID)
	if err != nil {
		s.writeDownloadError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Download started",
		"download_id":  res.SessionID,
		"object_name":  res.ObjectName,
		"total_chunks": res.TotalChunks,
	})
}

// handleDownloadStream emits newline-delimited progress events until the
// transfer completes, is cancelled, or the client goes away. Disconnect is
// not an error: the manager releases the session and the response just ends.
func (s *Server) handleDownloadStream(w http.ResponseWriter, r *http.Request) {
	downloadID := chi.URLParam(r, "downloadID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := s.mgr.StreamProgress(r.Context(), downloadID, userToken(r))
	if err != nil {
		s.writeDownloadError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleDownloadCancel frees the caller's busy download, if any.
func (s *Server) handleDownloadCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Cancel(r.Context(), userToken(r)); err != nil {
		s.writeDownloadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Download cancelled successfully"})
}

// handleDownloadStatus reports the caller's current download state.
func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.mgr.Status(r.Context(), userToken(r))
	if err != nil {
		s.writeDownloadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIStatusResponse{State: st.State, Download: toAPIDownload(st.Session)})
}

// handleDownloadEvents streams the caller's per-user hub group over SSE, so a
// second tab or a reconnecting client can follow progress without owning the
// chunk stream.
func (s *Server) handleDownloadEvents(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := s.hub.SubscribeUser(userToken(r))
	defer unsubscribe()
	s.serveSSE(w, r, events)
}

// serveSSE forwards hub events to the client as download-progress SSE events
// until the client disconnects.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, events <-chan hub.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: download-progress\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// writeDownloadError maps the download error taxonomy onto HTTP responses.
func (s *Server) writeDownloadError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *download.ConflictError
	var storeConflict *download.StoreConflictError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "Another download already in progress",
			"current_download": map[string]any{
				"object_name": conflict.ObjectName,
				"progress":    conflict.Progress,
			},
		})
	case errors.Is(err, download.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, "Object not found")
	case errors.Is(err, download.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Download session not found")
	case errors.Is(err, download.ErrForbidden):
		writeError(w, http.StatusForbidden, "Unauthorized access")
	case errors.Is(err, download.ErrSessionNotActive):
		writeError(w, http.StatusBadRequest, "Download session is not active")
	case errors.Is(err, download.ErrAlreadyStreaming):
		writeError(w, http.StatusConflict, "Download session is already streaming")
	case errors.Is(err, download.ErrNoActiveDownload):
		writeError(w, http.StatusNotFound, "No active download found")
	case errors.As(err, &storeConflict):
		writeError(w, http.StatusInternalServerError, "Failed to start download. Please try again.")
	default:
		logctx.From(r.Context()).Error("download request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
