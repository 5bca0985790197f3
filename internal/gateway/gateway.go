// Package gateway is the HTTP surface: the SSE and WebSocket push channels,
// call submission, and the schedule management API.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/dispatch"
	"github.com/basket/geomcp/internal/functions"
	"github.com/basket/geomcp/internal/otel"
	"github.com/basket/geomcp/internal/persistence"
	"github.com/basket/geomcp/internal/schedule"
)

// ServiceVersion is reported on the root banner and health endpoint.
const ServiceVersion = "1.0.0"

// Config holds the dependencies for the gateway.
type Config struct {
	Channels   *channel.Registry
	Dispatcher *dispatch.Dispatcher
	Functions  *functions.Registry
	Store      *persistence.Store // nil disables the /schedules API
	Logger     *slog.Logger
	Metrics    *otel.Metrics // nil disables instrument updates
	// ConfigFingerprint is surfaced on /healthz so operators can tell which
	// config a process runs.
	ConfigFingerprint string
	// AllowOrigins is the WebSocket origin allowlist.
	AllowOrigins []string
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	start  time.Time
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, start: time.Now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/mcp_call", s.handleCall)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/functions", s.handleFunctions)
	mux.HandleFunc("/schedules", s.handleSchedules)
	mux.HandleFunc("/schedules/", s.handleScheduleByID)
	if s.cfg.Metrics == nil {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Streaming endpoints hold the connection open; their duration is
		// connection lifetime, not request latency.
		if r.URL.Path == "/sse" || r.URL.Path == "/ws" {
			mux.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		mux.ServeHTTP(w, r)
		s.cfg.Metrics.RequestDuration.Record(r.Context(), time.Since(start).Seconds())
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "GeoMCP SSE Server",
		"version": ServiceVersion,
		"status":  "running",
		"endpoints": map[string]any{
			"sse":       "/sse",
			"ws":        "/ws",
			"mcp_call":  "/mcp_call",
			"functions": "/functions",
			"schedules": "/schedules",
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"version":            ServiceVersion,
		"uptime_seconds":     int(time.Since(s.start).Seconds()),
		"open_channels":      s.cfg.Channels.Len(),
		"functions":          s.cfg.Functions.Len(),
		"config_fingerprint": s.cfg.ConfigFingerprint,
	})
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"functions": s.cfg.Functions.List(),
	})
}

// scheduleRequest is the POST /schedules body.
type scheduleRequest struct {
	Name     string         `json:"name"`
	CronExpr string         `json:"cron_expr"`
	Function string         `json:"function"`
	Params   map[string]any `json:"params"`
	Enabled  *bool          `json:"enabled"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		httpError(w, http.StatusNotFound, "schedules not available")
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := s.cfg.Store.ListSchedules(r.Context())
		if err != nil {
			s.logger.Error("list schedules failed", "error", err)
			httpError(w, http.StatusInternalServerError, "list schedules failed")
			return
		}
		if list == nil {
			list = []*persistence.Schedule{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
	case http.MethodPost:
		s.createSchedule(w, r)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.CronExpr == "" || req.Function == "" {
		httpError(w, http.StatusBadRequest, "name, cron_expr and function are required")
		return
	}
	if _, ok := s.cfg.Functions.Lookup(req.Function); !ok {
		httpError(w, http.StatusBadRequest, "unknown function: "+req.Function)
		return
	}

	now := time.Now()
	next, err := schedule.NextRunTime(req.CronExpr, now)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid cron_expr: "+err.Error())
		return
	}

	if req.Params == nil {
		req.Params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid params")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched := &persistence.Schedule{
		ID:         uuid.NewString(),
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		Function:   req.Function,
		ParamsJSON: string(paramsJSON),
		Enabled:    enabled,
		NextRunAt:  &next,
		CreatedAt:  now.UTC(),
	}
	if err := s.cfg.Store.InsertSchedule(r.Context(), sched); err != nil {
		httpError(w, http.StatusConflict, "insert schedule failed: "+err.Error())
		return
	}
	s.logger.Info("schedule created",
		"schedule_id", sched.ID, "schedule_name", sched.Name, "function", sched.Function)
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		httpError(w, http.StatusNotFound, "schedules not available")
		return
	}
	id := r.URL.Path[len("/schedules/"):]
	if id == "" {
		httpError(w, http.StatusBadRequest, "schedule id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sched, err := s.cfg.Store.GetSchedule(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusNotFound, "schedule not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	case http.MethodPatch:
		s.patchSchedule(w, r, id)
	case http.MethodDelete:
		if err := s.cfg.Store.DeleteSchedule(r.Context(), id); err != nil {
			httpError(w, http.StatusNotFound, "schedule not found: "+id)
			return
		}
		s.logger.Info("schedule deleted", "schedule_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// patchSchedule implements PATCH /schedules/{id}: toggle the enabled flag
// without touching the cron expression or params.
func (s *Server) patchSchedule(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		httpError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.cfg.Store.SetScheduleEnabled(r.Context(), id, *req.Enabled); err != nil {
		httpError(w, http.StatusNotFound, "schedule not found: "+id)
		return
	}
	sched, err := s.cfg.Store.GetSchedule(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusNotFound, "schedule not found: "+id)
		return
	}
	s.logger.Info("schedule updated", "schedule_id", id, "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, sched)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"error": detail})
}
