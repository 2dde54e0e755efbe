// Package console implements the operator console's read/write API: cycle
// history, task inspection, anomaly review, cost reporting, and the single
// write path operators have onto the control loop — forcing a task back to
// queued ahead of its normal cooldown.
package console

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/httpserver"
	"github.com/cyclemanager/cyclemanager/pkg/costtracker"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// anomalyEventPrefix is the event-type prefix every anomaly observation is
// recorded under (see pkg/anomaly.Detector), used to filter the recent
// event log down to anomalies alone.
const anomalyEventPrefix = "anomaly."

// Handlers holds the dependencies the console's HTTP handlers need.
type Handlers struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHandlers creates a Handlers.
func NewHandlers(pool *pgxpool.Pool, logger *slog.Logger) *Handlers {
	return &Handlers{pool: pool, logger: logger}
}

// Mount registers every console route on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/cycles", h.ListCycles)
	r.Get("/cycles/{id}", h.GetCycle)
	r.Get("/tasks", h.ListTasks)
	r.Get("/anomalies", h.ListAnomalies)
	r.Get("/cost/report", h.CostReport)
	r.Get("/cost/efficiency", h.CostEfficiency)
	r.Post("/tasks/{id}/force-requeue", h.ForceRequeueTask)
}

// cycleResponse is the JSON shape for a single cycle.
type cycleResponse struct {
	ID         string          `json:"id"`
	Number     int64           `json:"number"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Stats      json.RawMessage `json:"stats,omitempty"`
}

// ListCycles returns the most recent cycles, newest first.
func (h *Handlers) ListCycles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25, httpserver.MaxPageSize)

	q := db.New(h.pool)
	cycles, err := q.ListCycles(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing cycles", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list cycles")
		return
	}

	out := make([]cycleResponse, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, toCycleResponse(c))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": out})
}

// GetCycle returns a single cycle by ID.
func (h *Handlers) GetCycle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cycle id")
		return
	}

	q := db.New(h.pool)
	cycle, err := q.GetCycle(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "cycle not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toCycleResponse(cycle))
}

func toCycleResponse(c taskmodel.Cycle) cycleResponse {
	return cycleResponse{
		ID:         c.ID.String(),
		Number:     c.Number,
		Status:     string(c.Status),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Stats:      c.Stats,
	}
}

// taskResponse is the JSON shape for a single task.
type taskResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Role        string `json:"role"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	BlockReason string `json:"block_reason,omitempty"`
	RetryCount  int    `json:"retry_count"`
	Priority    int    `json:"priority"`
	RiskLevel   int    `json:"risk_level"`
	UpdatedAt   string `json:"updated_at"`
	CreatedAt   string `json:"created_at"`
}

// ListTasks returns tasks filtered by status, paginated by offset.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "status query parameter is required")
		return
	}
	status := taskmodel.TaskStatus(statusParam)

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	q := db.New(h.pool)
	tasks, err := q.ListTasks(r.Context(), status, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing tasks", "error", err, "status", status)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list tasks")
		return
	}
	counts, err := q.CountTasksByStatus(r.Context())
	if err != nil {
		h.logger.Error("counting tasks by status", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list tasks")
		return
	}

	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(out, params, int(counts[status])))
}

func toTaskResponse(t taskmodel.Task) taskResponse {
	return taskResponse{
		ID:          t.ID.String(),
		Title:       t.Title,
		Role:        string(t.Role),
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		BlockReason: string(t.BlockReason),
		RetryCount:  t.RetryCount,
		Priority:    t.Priority,
		RiskLevel:   t.RiskLevel,
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339),
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// anomalyEventResponse is the JSON shape for one anomaly observation, taken
// from the event log rather than a dedicated table: anomalies are
// observational, not entities with their own lifecycle.
type anomalyEventResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// ListAnomalies returns the most recent anomaly events, newest first.
func (h *Handlers) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)

	q := db.New(h.pool)
	// Recent events are fetched over-wide and filtered client-side by the
	// anomaly.* type prefix, since events are a single append-only stream
	// shared by every monitor rather than one table per event kind.
	events, err := q.ListRecentEvents(r.Context(), limit*4)
	if err != nil {
		h.logger.Error("listing anomaly events", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to list anomalies")
		return
	}

	out := make([]anomalyEventResponse, 0, limit)
	for _, e := range events {
		if len(out) >= limit {
			break
		}
		if !strings.HasPrefix(e.Type, anomalyEventPrefix) {
			continue
		}
		out = append(out, anomalyEventResponse{
			ID:        e.ID.String(),
			Type:      e.Type,
			CreatedAt: e.CreatedAt,
			Details:   e.Payload,
		})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": out})
}

// CostReport returns aggregated token spend and outcomes over [start, end).
// Both are optional RFC3339 timestamps; the default window is the last 24h.
func (h *Handlers) CostReport(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r, 24*time.Hour)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	q := db.New(h.pool)
	report, err := costtracker.GetCostByPeriod(r.Context(), q, start, end)
	if err != nil {
		h.logger.Error("building cost report", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to build cost report")
		return
	}
	httpserver.Respond(w, http.StatusOK, report)
}

// CostEfficiency returns the cost-per-successful-task trend over the last
// `days` days (default 7).
func (h *Handlers) CostEfficiency(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 90)

	q := db.New(h.pool)
	report, err := costtracker.AnalyzeCostEfficiency(r.Context(), q, days)
	if err != nil {
		h.logger.Error("analyzing cost efficiency", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to analyze cost efficiency")
		return
	}
	httpserver.Respond(w, http.StatusOK, report)
}

// forceRequeueRequest is the optional JSON body for ForceRequeueTask.
type forceRequeueRequest struct {
	Priority       *int `json:"priority,omitempty" validate:"omitempty,min=0,max=100"`
	TimeboxMinutes *int `json:"timebox_minutes,omitempty" validate:"omitempty,min=1"`
}

// ForceRequeueTask transitions a task straight to queued, bypassing the
// requeuers' normal cooldown. This is the console's one write path onto the
// control loop: an operator who has already judged a blocked or stuck task
// manually can put it back in front of the scheduler immediately.
func (h *Handlers) ForceRequeueTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid task id")
		return
	}

	var req forceRequeueRequest
	if r.ContentLength > 0 {
		if !httpserver.DecodeAndValidate(w, r, &req) {
			return
		}
	}

	q := db.New(h.pool)
	task, err := q.RequeueTask(r.Context(), db.RequeueTaskParams{
		ID:             id,
		Priority:       req.Priority,
		TimeboxMinutes: req.TimeboxMinutes,
	})
	if err != nil {
		h.logger.Error("force requeueing task", "error", err, "task_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to requeue task")
		return
	}
	httpserver.Respond(w, http.StatusOK, toTaskResponse(task))
}

// queryInt reads an integer query parameter, clamped to [1, max], falling
// back to def when absent or invalid.
func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parseWindow reads optional "start"/"end" RFC3339 query parameters,
// defaulting to [now-defaultSpan, now].
func parseWindow(r *http.Request, defaultSpan time.Duration) (start, end time.Time, err error) {
	now := time.Now()
	end = now
	start = now.Add(-defaultSpan)

	if v := r.URL.Query().Get("start"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, err
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}
