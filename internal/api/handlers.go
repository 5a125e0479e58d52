package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/pkg/logger"
	"github.com/ignite/sqp-sync/internal/scheduler"
)

// Handlers holds the dependencies for the status endpoints.
type Handlers struct {
	store      SyncStore
	trigger    ManualTrigger
	periodType domain.PeriodType
}

// NewHandlers creates the handler set.
func NewHandlers(store SyncStore, trigger ManualTrigger, periodType domain.PeriodType) *Handlers {
	return &Handlers{store: store, trigger: trigger, periodType: periodType}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write response failed", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness and store connectivity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports whether a sync is running, the last completed run, and how
// fresh the store is.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]interface{}{
		"running":     h.trigger.IsRunning(),
		"period_type": string(h.periodType),
	}

	last, err := h.store.LastCompletedSync(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if last != nil {
		resp["last_completed"] = last
	}

	end, ok, err := h.store.LatestSyncedPeriodEnd(ctx, h.periodType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ok {
		resp["latest_period_end"] = end.Format("2006-01-02")
		resp["days_behind"] = int(time.Since(end).Hours() / 24)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logs lists recent audit rows, newest first.
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	logs, err := h.store.RecentSyncLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []domain.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}

// LogDetail returns one audit row with its quality checks.
func (h *Handlers) LogDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "logID")

	entry, err := h.store.GetSyncLog(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "sync log not found")
		return
	}

	checks, err := h.store.QualityChecksFor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if checks == nil {
		checks = []domain.QualityCheck{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"log": entry, "quality_checks": checks})
}

// Trigger kicks off a manual sync. The run happens in the background; the
// response only acknowledges the start. A sync already in flight is a 409.
func (h *Handlers) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.trigger.IsRunning() {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}

	go func() {
		if _, err := h.trigger.TriggerNow(context.Background(), "manual"); err != nil {
			if errors.Is(err, scheduler.ErrAlreadyRunning) {
				return
			}
			logger.Error("manual sync failed", "error", err.Error())
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
