package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexus-stack/nexus-core/internal/store"
)

// handleGetTeam returns a team record. The route demands the manage_team
// permission in the caller's token scope.
func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.repos.Teams.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrTeamNotFound) {
			writeNotFound(w, "team not found")
			return
		}
		s.logger.Error("loading team failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, team)
}

// handleListTeamRoles returns a team's roles. Either manage_roles or
// manage_team satisfies the route's permission check.
func (s *Server) handleListTeamRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.repos.Roles.ListByTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("listing roles failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}
