package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/persistence"
)

type roleBody struct {
	Name       string `json:"name"`
	ClaimsFrom string `json:"claims_from"`
}

func (s *Server) handleRegisterRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	role := persistence.Role{Name: body.Name, ClaimsFrom: persistence.Queue(body.ClaimsFrom)}
	if err := s.cfg.Roles.Register(r.Context(), role); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roles": s.cfg.Roles.List()})
}

type flowBody struct {
	Name string `json:"name"`
}

func (s *Server) handleRegisterFlow(w http.ResponseWriter, r *http.Request) {
	var body flowBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	flow := persistence.Flow{Name: body.Name}
	if err := s.cfg.Flows.Register(r.Context(), flow); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, flow)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"flows": s.cfg.Flows.List()})
}
