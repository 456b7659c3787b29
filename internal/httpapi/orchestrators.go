package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/persistence"
)

type registerOrchestratorBody struct {
	Cluster   string `json:"cluster"`
	MachineID string `json:"machine_id"`
	Scope     string `json:"scope"`
}

func (s *Server) handleRegisterOrchestrator(w http.ResponseWriter, r *http.Request) {
	var body registerOrchestratorBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	if body.Scope == "" {
		writeError(w, apierr.Validationf("scope is required"), http.StatusBadRequest)
		return
	}
	id := body.Cluster + "-" + body.MachineID
	o, err := s.cfg.Store.RegisterOrchestrator(r.Context(), persistence.Orchestrator{
		ID: id, Cluster: body.Cluster, MachineID: body.MachineID, Scope: body.Scope,
	})
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Heartbeat(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// schedulerPollResponse mirrors the aggregate snapshot orchestrators
// poll instead of subscribing to per-task pushes.
type schedulerPollResponse struct {
	QueueCounts            map[string]int     `json:"queue_counts"`
	Provisional            []provisionalEntry `json:"provisional"`
	OrchestratorRegistered bool               `json:"orchestrator_registered"`
	Scope                  string             `json:"scope"`
	Flows                  []persistence.Flow `json:"flows"`
}

type provisionalEntry struct {
	ID        string `json:"id"`
	Hooks     string `json:"hooks,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`
	ClaimedBy string `json:"claimed_by,omitempty"`
}

func (s *Server) handleSchedulerPoll(w http.ResponseWriter, r *http.Request) {
	orchestratorID := r.URL.Query().Get("orchestrator_id")
	scope := r.URL.Query().Get("scope")

	registered := false
	if orchestratorID != "" {
		if o, err := s.cfg.Store.GetOrchestrator(r.Context(), orchestratorID); err == nil {
			registered = true
			if scope == "" {
				scope = o.Scope
			}
		}
	}
	if scope == "" {
		writeError(w, apierr.Validationf("scope is required"), http.StatusBadRequest)
		return
	}

	counts := map[string]int{}
	for _, q := range []persistence.Queue{persistence.QueueIncoming, persistence.QueueClaimed, persistence.QueueProvisional} {
		_, total, err := s.cfg.Store.ListTasksPaginated(r.Context(), scope, q, 1, 0)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		counts[string(q)] = total
	}

	provisionalTasks, _, err := s.cfg.Store.ListTasksPaginated(r.Context(), scope, persistence.QueueProvisional, s.cfg.MaxPage, 0)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	projection := make([]provisionalEntry, 0, len(provisionalTasks))
	for _, t := range provisionalTasks {
		projection = append(projection, provisionalEntry{ID: t.ID, Hooks: t.Hooks, ClaimedBy: t.ClaimedBy})
	}

	writeJSON(w, http.StatusOK, schedulerPollResponse{
		QueueCounts:            counts,
		Provisional:            projection,
		OrchestratorRegistered: registered,
		Scope:                  scope,
		Flows:                  s.cfg.Flows.List(),
	})
}
