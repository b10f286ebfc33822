package api

import (
	"net/http"
)

// handleMe returns the authenticated user with memberships, roles and
// permissions eagerly loaded, plus the membership the session's team
// resolved to.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	resp := map[string]any{"user": result.User}
	if result.Membership != nil {
		resp["current_team"] = result.Membership.Team
		resp["current_role"] = result.Membership.Role
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus reports whether the caller holds a live session. The route
// is loose: a dead or missing token answers anonymously instead of 401.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	if result.Anonymous {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      result.User.Username,
	})
}

// handleListDevices returns the caller's registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	devices, err := s.repos.Devices.ListByUser(r.Context(), result.User.ID)
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}
