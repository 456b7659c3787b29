package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/facade"
	"github.com/fleetci/taskhub/internal/persistence"
)

type createTaskBody struct {
	ID            string `json:"id"`
	Queue         string `json:"queue"`
	Priority      string `json:"priority"`
	Role          string `json:"role"`
	Type          string `json:"type"`
	Scope         string `json:"scope"`
	Branch        string `json:"branch"`
	FilePath      string `json:"file_path"`
	ProjectID     string `json:"project_id"`
	BlockedBy     string `json:"blocked_by"`
	Hooks         json.RawMessage `json:"hooks"`
	Flow          string `json:"flow"`
	FlowOverrides json.RawMessage `json:"flow_overrides"`
	AutoAccept    bool   `json:"auto_accept"`
}

func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	task, err := s.cfg.Facade.CreateTask(r.Context(), facade.CreateTaskRequest{
		ID: body.ID, Queue: persistence.Queue(body.Queue), Priority: persistence.Priority(body.Priority),
		Role: body.Role, Type: body.Type, Scope: body.Scope, Branch: body.Branch, FilePath: body.FilePath,
		ProjectID: body.ProjectID, BlockedBy: body.BlockedBy, Hooks: rawToString(body.Hooks), Flow: body.Flow,
		FlowOverrides: rawToString(body.FlowOverrides), AutoAccept: body.AutoAccept,
	})
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.Facade.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	queue := persistence.Queue(r.URL.Query().Get("queue"))
	limit, offset := paginationParams(r, s.cfg.DefaultPage, s.cfg.MaxPage)
	tasks, total, err := s.cfg.Facade.ListTasks(r.Context(), scope, queue, limit, offset)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Facade.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	task, err := s.cfg.Facade.PatchTask(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.cfg.Store.ListHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

type claimBody struct {
	Scope             string   `json:"scope"`
	Queue             string   `json:"queue"`
	RoleFilter        []string `json:"role_filter"`
	TypeFilter        []string `json:"type_filter"`
	OrchestratorID    string   `json:"orchestrator_id"`
	AgentName         string   `json:"agent_name"`
	LeaseDurationSecs int      `json:"lease_duration_seconds"`
}

// claimOutcome reports both the task and the recorded effect label so
// callers can tell a fresh claim from a review re-claim without
// re-deriving it from queue alone.
type claimOutcome struct {
	Task   persistence.Task `json:"task"`
	Effect string           `json:"effect,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	scope := body.Scope
	if scope == "" && body.OrchestratorID != "" {
		if o, err := s.cfg.Store.GetOrchestrator(r.Context(), body.OrchestratorID); err == nil {
			scope = o.Scope
		}
	}
	var lease time.Duration
	if body.LeaseDurationSecs > 0 {
		lease = time.Duration(body.LeaseDurationSecs) * time.Second
	}
	task, effect, err := s.cfg.Facade.Claim(r.Context(), facade.ClaimRequest{
		Scope: scope, Queue: persistence.Queue(body.Queue), RoleFilter: body.RoleFilter, TypeFilter: body.TypeFilter,
		OrchestratorID: body.OrchestratorID, AgentName: body.AgentName, LeaseDuration: lease,
	})
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: task, Effect: effectLabel(effect)})
}

type submitBody struct {
	CommitsCount   int    `json:"commits_count"`
	TurnsUsed      int    `json:"turns_used"`
	CheckResults   string `json:"check_results"`
	ExecutionNotes string `json:"execution_notes"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	task, err := s.cfg.Store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	updated, effect, err := s.cfg.Facade.Submit(r.Context(), facade.SubmitRequest{
		TaskID: task.ID, ExpectedVersion: task.Version, CommitsCount: body.CommitsCount, TurnsUsed: body.TurnsUsed,
		CheckResults: body.CheckResults, ExecutionNotes: body.ExecutionNotes,
	})
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: updated, Effect: effectLabel(effect)})
}

type versionedBody struct {
	ExpectedVersion int64  `json:"expected_version"`
	Reason          string `json:"reason"`
	BlockedBy       string `json:"blocked_by"`
	AcceptedBy      string `json:"accepted_by"`
	RejectedBy      string `json:"rejected_by"`
}

func (s *Server) currentVersion(r *http.Request, id string, requested int64) (int64, error) {
	if requested > 0 {
		return requested, nil
	}
	task, err := s.cfg.Store.GetTask(r.Context(), id)
	if err != nil {
		return 0, err
	}
	return task.Version, nil
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body versionedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	version, err := s.currentVersion(r, id, body.ExpectedVersion)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	task, effect, err := s.cfg.Facade.Accept(r.Context(), id, version, body.AcceptedBy)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: task, Effect: effectLabel(effect)})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body versionedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	version, err := s.currentVersion(r, id, body.ExpectedVersion)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	task, effect, err := s.cfg.Facade.Reject(r.Context(), id, version, body.Reason, body.RejectedBy)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: task, Effect: effectLabel(effect)})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	var body versionedBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	id := r.PathValue("id")
	version, err := s.currentVersion(r, id, body.ExpectedVersion)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	task, effect, err := s.cfg.Facade.Requeue(r.Context(), id, version)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: task, Effect: effectLabel(effect)})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var body versionedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	version, err := s.currentVersion(r, id, body.ExpectedVersion)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	task, effect, err := s.cfg.Facade.Block(r.Context(), id, version, body.BlockedBy)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: task, Effect: effectLabel(effect)})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var body versionedBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	id := r.PathValue("id")
	version, err := s.currentVersion(r, id, body.ExpectedVersion)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	task, effect, err := s.cfg.Facade.Unblock(r.Context(), id, version)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimOutcome{Task: task, Effect: effectLabel(effect)})
}

type completeHookBody struct {
	Status   string `json:"status"`
	Evidence string `json:"evidence"`
}

func (s *Server) handleCompleteHook(w http.ResponseWriter, r *http.Request) {
	var body completeHookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validationf("invalid request body"), http.StatusBadRequest)
		return
	}
	task, err := s.cfg.Facade.CompleteHook(r.Context(), r.PathValue("id"), r.PathValue("hookName"), body.Status, body.Evidence)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
