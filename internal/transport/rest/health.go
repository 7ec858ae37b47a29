package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/policy"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// SnapshotSource exposes the policy snapshot currently serving requests.
type SnapshotSource interface {
	Current() *policy.Snapshot
}

type HealthHandler struct {
	db     *sqlx.DB
	policy SnapshotSource
}

func NewHealthHandler(db *sqlx.DB, policy SnapshotSource) *HealthHandler {
	return &HealthHandler{db: db, policy: policy}
}

// Ping only says the process is up.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Check pings the database and reports which policy snapshot is loaded. A failed
// database makes the service unhealthy; a missing snapshot only degrades it.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	components := map[string]CheckEntry{
		"postgres": h.checkDatabase(r.Context()),
		"policy":   h.checkPolicy(),
	}

	overall := HealthHealthy
	for _, c := range components {
		if c.Status == HealthUnhealthy {
			overall = HealthUnhealthy
			break
		}
		if c.Status == HealthDegraded {
			overall = HealthDegraded
		}
	}

	statusCode := http.StatusOK
	if overall == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, statusCode, HealthResponse{
		Status:     overall,
		CheckedAt:  time.Now(),
		Components: components,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckEntry {
	ctx, cancel := internal.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	entry := CheckEntry{Status: HealthHealthy}
	if h.db == nil {
		entry.Status = HealthUnhealthy
		entry.Message = "database not configured"
	} else if err := h.db.PingContext(ctx); err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	} else {
		stats := h.db.Stats()
		entry.Details = map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
		}
	}
	entry.CheckedAt = time.Now()
	entry.DurationMs = time.Since(start).Milliseconds()
	return entry
}

func (h *HealthHandler) checkPolicy() CheckEntry {
	entry := CheckEntry{Status: HealthHealthy, CheckedAt: time.Now()}
	var snap *policy.Snapshot
	if h.policy != nil {
		snap = h.policy.Current()
	}
	if snap == nil {
		entry.Status = HealthDegraded
		entry.Message = "policy loader not configured"
		return entry
	}
	if snap.Origin == policy.OriginStatic {
		entry.Status = HealthDegraded
		entry.Message = "serving the built-in role table"
	}
	entry.Details = map[string]any{
		"version":   snap.Version,
		"origin":    snap.Origin,
		"loaded_at": snap.LoadedAt,
	}
	return entry
}

func writeHealthJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
