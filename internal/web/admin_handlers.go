package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/catalog"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/logctx"
)

func (s *Server) handleAdminListObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := s.catalog.List(r.Context())
	if err != nil {
		logctx.From(r.Context()).Error("list objects", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, toAPIObjects(objects))
}

func (s *Server) handleAdminGetObject(w http.ResponseWriter, r *http.Request) {
	o, err := s.catalog.GetObject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logctx.From(r.Context()).Error("get object", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "Object not found")
		return
	}
	writeJSON(w, http.StatusOK, toAPIObject(*o))
}

func (s *Server) handleAdminCreateObject(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var req struct {
		Name   string   `json:"name"`
		SizeMB *float64 `json:"size"`
		Logo   string   `json:"logo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.SizeMB == nil {
		writeError(w, http.StatusBadRequest, "Name and size are required")
		return
	}
	if *req.SizeMB < 0 {
		writeError(w, http.StatusBadRequest, "Size must be non-negative")
		return
	}

	o := &catalog.Object{Name: req.Name, SizeMB: *req.SizeMB, Logo: req.Logo}
	if err := s.catalog.Insert(r.Context(), o); err != nil {
		logctx.From(r.Context()).Error("create object", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusCreated, toAPIObject(*o))
}

func (s *Server) handleAdminUpdateObject(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var req struct {
		Name   *string  `json:"name"`
		SizeMB *float64 `json:"size"`
		Logo   *string  `json:"logo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SizeMB != nil && *req.SizeMB < 0 {
		writeError(w, http.StatusBadRequest, "Size must be non-negative")
		return
	}

	o, err := s.catalog.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.SizeMB, req.Logo)
	if err != nil {
		logctx.From(r.Context()).Error("update object", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "Object not found")
		return
	}
	writeJSON(w, http.StatusOK, toAPIObject(*o))
}

func (s *Server) handleAdminDeleteObject(w http.ResponseWriter, r *http.Request) {
	ok, err := s.catalog.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logctx.From(r.Context()).Error("delete object", "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Object not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Object deleted successfully"})
}
