// Package httpapi is the thin JSON/HTTP shell around internal/facade. It
// parses request bodies, resolves scope, calls the facade, and maps the
// returned apierr.Kind to a status code — it carries no lifecycle logic
// of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/bus"
	"github.com/fleetci/taskhub/internal/engine"
	"github.com/fleetci/taskhub/internal/facade"
	"github.com/fleetci/taskhub/internal/flows"
	"github.com/fleetci/taskhub/internal/persistence"
	"github.com/fleetci/taskhub/internal/roles"
)

// Config wires the facade and supporting registries into the transport
// shell. AuthToken, when set, gates the operator-facing roles/flows
// write endpoints only — claim/submit/accept traffic from orchestrators
// never needs it.
type Config struct {
	Facade       *facade.Facade
	Store        *persistence.Store
	Roles        *roles.Registry
	Flows        *flows.Registry
	Bus          *bus.Bus
	Logger       *slog.Logger
	AuthToken    string
	AllowOrigins []string
	DefaultPage  int
	MaxPage      int

	// RateLimitEnabled gates a per-client token-bucket limiter in front
	// of the whole route table. RequestsPerMinute/BurstSize fall back to
	// sane defaults when left zero.
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server is the httpapi transport shell.
type Server struct {
	cfg     Config
	limiter *rateLimiter
}

func New(cfg Config) *Server {
	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 50
	}
	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limiter := newRateLimiter(cfg.RateLimitEnabled, cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	return &Server{cfg: cfg, limiter: limiter}
}

// StartRateLimitEviction runs a background sweep that drops idle
// per-client buckets so long-lived servers don't accumulate one bucket
// per orchestrator token/IP forever.
func (s *Server) StartRateLimitEviction(ctx context.Context) {
	s.limiter.startEviction(ctx, 5*time.Minute, 30*time.Minute)
}

// Handler builds the full route table wrapped with otelhttp tracing and
// permissive CORS, mirroring the teacher's single-mux, method+path
// pattern shape.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("PATCH /tasks/{id}", s.handlePatchTask)
	mux.HandleFunc("POST /tasks/claim", s.handleClaim)
	mux.HandleFunc("POST /tasks/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /tasks/{id}/accept", s.handleAccept)
	mux.HandleFunc("POST /tasks/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /tasks/{id}/requeue", s.handleRequeue)
	mux.HandleFunc("POST /tasks/{id}/block", s.handleBlock)
	mux.HandleFunc("POST /tasks/{id}/unblock", s.handleUnblock)
	mux.HandleFunc("POST /tasks/{id}/hooks/{hookName}/complete", s.handleCompleteHook)
	mux.HandleFunc("GET /tasks/{id}/history", s.handleHistory)

	mux.HandleFunc("POST /orchestrators/register", s.handleRegisterOrchestrator)
	mux.HandleFunc("POST /orchestrators/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /scheduler/poll", s.handleSchedulerPoll)

	mux.HandleFunc("POST /roles", s.authGate(s.handleRegisterRole))
	mux.HandleFunc("GET /roles", s.handleListRoles)
	mux.HandleFunc("POST /flows", s.authGate(s.handleRegisterFlow))
	mux.HandleFunc("GET /flows", s.handleListFlows)

	mux.HandleFunc("GET /events/ws", s.handleEventsWS)

	var handler http.Handler = mux
	handler = s.limiter.wrap(handler)
	handler = s.cors(handler)
	handler = s.accessLog(handler)
	return otelhttp.NewHandler(handler, "taskhub.httpapi")
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.cfg.Logger.Debug("request", "method", r.Method, "path", r.URL.Path)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) authGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, apierr.Validationf("unauthorized"), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token != "" && token == s.cfg.AuthToken
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ok := s.cfg.Store.DB().PingContext(r.Context()) == nil
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"healthy": ok, "db_ok": ok})
}

// statusFor maps the facade's error taxonomy to an HTTP status code per
// spec's error handling design: VALIDATION→400, NOT_FOUND→404,
// CONFLICT/DEPENDENCY→409, INTERNAL→500.
func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.Validation:
		return http.StatusBadRequest
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.Conflict, apierr.Dependency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, fallback int) {
	status := fallback
	message := err.Error()
	if apiErr, ok := apierr.As(err); ok {
		status = statusFor(apiErr.Kind)
		message = apiErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func paginationParams(r *http.Request, defaultPage, maxPage int) (limit, offset int) {
	limit = defaultPage
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPage {
		limit = maxPage
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeError(w, apierr.Internalf(nil, "event bus not configured"), http.StatusInternalServerError)
		return
	}
	originPatterns := []string{"*"}
	if len(s.cfg.AllowOrigins) > 0 {
		originPatterns = s.cfg.AllowOrigins
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	topicPrefix := r.URL.Query().Get("topic")
	sub := s.cfg.Bus.Subscribe(topicPrefix)
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				return
			}
		}
	}
}

// effectLabel is a small debug aid surfaced in JSON responses so callers
// can see which side effect the engine recorded without reparsing the
// task diff themselves.
func effectLabel(e engine.Effect) string {
	switch e.(type) {
	case engine.LeaseGranted:
		return "lease_granted"
	case engine.SubmissionRecorded:
		return "submission_recorded"
	case engine.Completed:
		return "completed"
	case engine.Rejected:
		return "rejected"
	case engine.LeaseReleased:
		return "lease_released"
	case engine.BlockedSet:
		return "blocked"
	case engine.UnblockedSet:
		return "unblocked"
	default:
		return ""
	}
}
