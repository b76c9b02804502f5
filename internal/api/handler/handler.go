// Package handler provides HTTP handlers for the control API. The bot and
// dashboard front-ends are thin consumers of these endpoints; everything
// here delegates straight to the engine's public operations.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pwkit/spywatch/internal/api/respond"
	"github.com/pwkit/spywatch/internal/collector"
	"github.com/pwkit/spywatch/internal/config"
	"github.com/pwkit/spywatch/internal/db"
	"github.com/pwkit/spywatch/internal/monitor"
	"github.com/pwkit/spywatch/internal/pnw"
	"github.com/pwkit/spywatch/internal/store"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	driver       *monitor.Driver
	collector    *collector.Collector
	nations      *store.Nations
	observations *store.Observations
	resets       *store.Resets
	pool         *db.Pool
	cfg          *config.Config
}

// New creates a Handler with shared dependencies.
func New(driver *monitor.Driver, coll *collector.Collector, nations *store.Nations, observations *store.Observations, resets *store.Resets, pool *db.Pool, cfg *config.Config) *Handler {
	return &Handler{
		driver:       driver,
		collector:    coll,
		nations:      nations,
		observations: observations,
		resets:       resets,
		pool:         pool,
		cfg:          cfg,
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "spywatch",
		"version": "1.0.0",
		"status":  "running",
		"state":   h.driver.State().String(),
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database is not reachable")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

// Status returns the monitoring status report.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.driver.StatusReport(r.Context())
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STATUS_FAILED", "Could not gather monitoring status")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, report)
}

// Resets returns the reset-time report, optionally filtered by alliance.
func (h *Handler) Resets(w http.ResponseWriter, r *http.Request) {
	var allianceID *int
	if raw := r.URL.Query().Get("alliance_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			respond.WriteError(w, http.StatusBadRequest, "BAD_ALLIANCE_ID", "alliance_id must be an integer")
			return
		}
		allianceID = &id
	}

	rows, err := h.resets.Report(r.Context(), allianceID, 100)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "REPORT_FAILED", "Could not build reset report")
		return
	}

	type resetRow struct {
		NationID     int       `json:"nation_id"`
		NationName   string    `json:"nation_name"`
		AllianceName string    `json:"alliance_name"`
		ResetTime    time.Time `json:"reset_time"`
		Confidence   float64   `json:"confidence"`
		Method       string    `json:"method"`
		Verified     bool      `json:"verified"`
	}
	out := make([]resetRow, len(rows))
	for i, row := range rows {
		out[i] = resetRow{
			NationID:     row.NationID,
			NationName:   row.NationName,
			AllianceName: row.AllianceName,
			ResetTime:    row.ResetTime,
			Confidence:   row.Confidence,
			Method:       row.Method,
			Verified:     row.Verified,
		}
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"resets":              out,
		"count":               len(out),
		"hourly_distribution": store.HourlyDistribution(rows),
	})
}

// Nations lists actively tracked nations, optionally filtered by alliance.
func (h *Handler) Nations(w http.ResponseWriter, r *http.Request) {
	var allianceID *int
	if raw := r.URL.Query().Get("alliance_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			respond.WriteError(w, http.StatusBadRequest, "BAD_ALLIANCE_ID", "alliance_id must be an integer")
			return
		}
		allianceID = &id
	}

	nations, err := h.nations.ListActive(r.Context(), allianceID)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "LIST_FAILED", "Could not list nations")
		return
	}

	type nationRow struct {
		ID           int     `json:"id"`
		Name         string  `json:"nation_name"`
		AllianceID   *int    `json:"alliance_id"`
		AllianceName string  `json:"alliance_name"`
		Score        float64 `json:"score"`
		Cities       int     `json:"cities"`
	}
	out := make([]nationRow, len(nations))
	for i, n := range nations {
		out[i] = nationRow{
			ID:           n.ID,
			Name:         n.Name,
			AllianceID:   n.AllianceID,
			AllianceName: n.AllianceName,
			Score:        n.Score,
			Cities:       n.Cities,
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"nations": out,
		"count":   len(out),
	})
}

// Nation returns one tracked nation with its recent observation history.
func (h *Handler) Nation(w http.ResponseWriter, r *http.Request) {
	nationID, err := strconv.Atoi(chi.URLParam(r, "nationID"))
	if err != nil || nationID <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "BAD_NATION_ID", "nation id must be a positive integer")
		return
	}

	n, err := h.nations.Get(r.Context(), nationID)
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NATION_NOT_FOUND", "That nation is not tracked")
		return
	}
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "GET_FAILED", "Could not load nation")
		return
	}

	history, err := h.observations.History(r.Context(), nationID, 10)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "GET_FAILED", "Could not load observation history")
		return
	}

	type observationRow struct {
		EspionageAvailable bool      `json:"espionage_available"`
		BeigeTurns         int       `json:"beige_turns"`
		VacationTurns      int       `json:"vacation_turns"`
		CheckedAt          time.Time `json:"checked_at"`
	}
	obs := make([]observationRow, len(history))
	for i, o := range history {
		obs[i] = observationRow{
			EspionageAvailable: o.EspionageAvailable,
			BeigeTurns:         o.BeigeTurns,
			VacationTurns:      o.VacationTurns,
			CheckedAt:          o.CheckedAt,
		}
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"id":            n.ID,
		"nation_name":   n.Name,
		"alliance_id":   n.AllianceID,
		"alliance_name": n.AllianceName,
		"score":         n.Score,
		"cities":        n.Cities,
		"is_active":     n.Active,
		"last_updated":  n.LastUpdated,
		"observations":  obs,
	})
}

// Collect triggers a synchronous collection run. Safe to call while the
// driver loop is running: queue writes merge rather than conflict.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	var allianceIDs []int
	if raw := r.URL.Query().Get("alliance_ids"); raw != "" {
		for _, part := range splitCSV(raw) {
			id, err := strconv.Atoi(part)
			if err != nil {
				respond.WriteError(w, http.StatusBadRequest, "BAD_ALLIANCE_IDS", "alliance_ids must be a comma-separated list of integers")
				return
			}
			allianceIDs = append(allianceIDs, id)
		}
	}

	report, err := h.collector.Run(r.Context(), allianceIDs)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "COLLECTION_FAILED", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"scanned":      report.Scanned,
		"matched":      report.Matched,
		"enqueued":     report.Enqueued,
		"resets_found": report.ResetsFound,
		"deactivated":  report.Deactivated,
		"pages":        report.Pages,
		"errors":       report.Errors,
	})
}

// StartMonitor starts the driver loop. Idempotent.
func (h *Handler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	if err := h.driver.Start(); err != nil {
		respond.WriteError(w, http.StatusConflict, "START_FAILED", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"state": h.driver.State().String()})
}

// StopMonitor stops the driver loop, letting the in-flight batch finish.
// Idempotent.
func (h *Handler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	h.driver.Stop()
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"state": h.driver.State().String()})
}

// ForceCheck polls one nation immediately, bypassing the queue.
func (h *Handler) ForceCheck(w http.ResponseWriter, r *http.Request) {
	nationID, err := strconv.Atoi(chi.URLParam(r, "nationID"))
	if err != nil || nationID <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "BAD_NATION_ID", "nation id must be a positive integer")
		return
	}

	obs, err := h.driver.ForceCheck(r.Context(), nationID)
	if err != nil {
		switch {
		case pnw.IsNotFound(err):
			respond.WriteError(w, http.StatusNotFound, "NATION_NOT_FOUND", "That nation does not exist")
		case pnw.IsRetryable(err):
			respond.WriteError(w, http.StatusBadGateway, "API_UNAVAILABLE", "Could not reach the game API, try again shortly")
		default:
			respond.WriteError(w, http.StatusInternalServerError, "CHECK_FAILED", "Check failed, try again shortly")
		}
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"nation_id":           obs.NationID,
		"espionage_available": obs.EspionageAvailable,
		"beige_turns":         obs.BeigeTurns,
		"vacation_turns":      obs.VacationTurns,
		"checked_at":          obs.CheckedAt,
	})
}

func splitCSV(raw string) []string {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
