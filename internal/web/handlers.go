package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/logctx"
)

// --- JSON Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireJSON checks the Content-Type header and returns false (with a 415
// response) if it is not application/json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleClientSession returns the caller's session token so the client can
// open matching event subscriptions.
func (s *Server) handleClientSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"session_id": userToken(r)})
}

// --- Client catalog browsing ---

func (s *Server) handleClientObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := s.catalog.List(r.Context())
	if err != nil {
		logctx.From(r.Context()).Error("list objects", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, toAPIObjects(objects))
}

func (s *Server) handleClientObjectsRecent(w http.ResponseWriter, r *http.Request) {
	objects, err := s.catalog.Recent(r.Context(), 10)
	if err != nil {
		logctx.From(r.Context()).Error("recent objects", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, toAPIObjects(objects))
}

func (s *Server) handleClientObjectsSearch(w http.ResponseWriter, r *http.Request) {
	objects, err := s.catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		logctx.From(r.Context()).Error("search objects", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, toAPIObjects(objects))
}
