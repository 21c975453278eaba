package bridgeapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// mountAdminRoutes wires the is_admin-gated maintenance surface under
// /admin, behind both the bearer-token pipeline (already applied to
// the enclosing group by Routes) and admin.Handlers.RequireAdmin.
func (s *Server) mountAdminRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.admin.RequireAdmin)

		r.Get("/stats", s.admin.Stats)
		r.Post("/cleanup", s.admin.Cleanup)
		r.Post("/logs/rotate", s.admin.RotateLogs)
		r.Get("/metrics", s.admin.Metrics)

		r.Get("/tool-permissions", s.admin.ListToolPermissions)
		r.Put("/tool-permissions/{tool_name}", s.updateToolPermission)

		r.Get("/users", s.admin.ListUsers)
		r.Put("/users/{id}/lock", s.lockUser)
		r.Put("/users/{id}/unlock", s.unlockUser)
	})
}

func (s *Server) updateToolPermission(w http.ResponseWriter, r *http.Request) {
	toolName := chiURLParam(r, "tool_name")
	s.admin.UpdateToolPermission(w, r, toolName)
}

func (s *Server) lockUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chiURLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	s.admin.LockUser(w, r, id)
}

func (s *Server) unlockUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chiURLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	s.admin.UnlockUser(w, r, id)
}
