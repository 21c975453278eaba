package bridgeapi

import (
	"encoding/json"
	"net/http"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/hubconfig"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

type hubConfigRequest struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Token     string `json:"token"`
	IsDefault bool   `json:"is_default"`
}

// CreateHubConfig validates and persists a new hub connection for the
// caller, encrypting the token before it ever reaches storage.
func (s *Server) CreateHubConfig(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	var req hubConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r, w, http.StatusBadRequest, "invalid request body")
		return
	}
	sum, err := s.hubconfigs.Create(r.Context(), ident.UserID, req.Name, req.URL, req.Token, req.IsDefault)
	if err != nil {
		writeHubConfigErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// ListHubConfigs lists the caller's hub configs.
func (s *Server) ListHubConfigs(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	list, err := s.hubconfigs.List(r.Context(), ident.UserID)
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetHubConfig fetches one hub config owned by the caller.
func (s *Server) GetHubConfig(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	sum, err := s.hubconfigs.Get(r.Context(), ident.UserID, chiURLParam(r, "id"))
	if err != nil {
		writeHubConfigErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// UpdateHubConfig replaces name/url/token on an existing hub config.
func (s *Server) UpdateHubConfig(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	var req hubConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r, w, http.StatusBadRequest, "invalid request body")
		return
	}
	sum, err := s.hubconfigs.Update(r.Context(), ident.UserID, chiURLParam(r, "id"), req.Name, req.URL, req.Token)
	if err != nil {
		writeHubConfigErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// DeleteHubConfig removes a hub config owned by the caller.
func (s *Server) DeleteHubConfig(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	if err := s.hubconfigs.Delete(r.Context(), ident.UserID, chiURLParam(r, "id")); err != nil {
		writeHubConfigErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProbeHubConfig calls the hub's health endpoint and records the
// outcome, returning the probe result inline.
func (s *Server) ProbeHubConfig(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	result, err := s.hubconfigs.Probe(r.Context(), ident.UserID, chiURLParam(r, "id"))
	if err != nil {
		writeHubConfigErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SetDefaultHubConfig marks a hub config as the caller's default.
func (s *Server) SetDefaultHubConfig(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	if err := s.hubconfigs.SetDefault(r.Context(), ident.UserID, chiURLParam(r, "id")); err != nil {
		writeHubConfigErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeHubConfigErr(w http.ResponseWriter, r *http.Request, err error) {
	switch err {
	case store.ErrNotFound:
		writeError(r, w, http.StatusNotFound, "hub config not found")
	case hubconfig.ErrInvalidURL:
		writeError(r, w, http.StatusBadRequest, "invalid hub url")
	default:
		writeError(r, w, http.StatusInternalServerError, err.Error())
	}
}
