package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"socwatch/internal/auth"
	"socwatch/internal/database"
	"socwatch/internal/detection"
	"socwatch/internal/domain"
)

type alertResponse struct {
	domain.Alert
	Severity string `json:"severity"`
}

func toResponse(alert domain.Alert) alertResponse {
	return alertResponse{Alert: alert, Severity: detection.Severity(alert.RiskScore)}
}

func (a *api) listAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := database.AlertFilter{
		AttackType: strings.TrimSpace(query.Get("type")),
		IP:         strings.TrimSpace(query.Get("ip")),
		Limit:      a.limits.DefaultLimit,
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if a.limits.MaxLimit > 0 && filter.Limit > a.limits.MaxLimit {
		filter.Limit = a.limits.MaxLimit
	}

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseAlertStatus(raw)
		if err != nil {
			writeError(w, "Invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}

	if raw := query.Get("min_risk"); raw != "" {
		minRisk, err := strconv.Atoi(raw)
		if err != nil || minRisk < domain.MinRiskScore || minRisk > domain.MaxRiskScore {
			writeError(w, "Invalid min_risk", http.StatusBadRequest)
			return
		}
		filter.MinRisk = minRisk
	}

	alerts, err := a.store.List(r.Context(), filter)
	if err != nil {
		log.Error("Failed to list alerts", "error", err)
		writeError(w, "Failed to load alerts", http.StatusInternalServerError)
		return
	}

	response := make([]alertResponse, 0, len(alerts))
	for _, alert := range alerts {
		response = append(response, toResponse(alert))
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *api) getAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAlertID(w, r)
	if !ok {
		return
	}

	alert, err := a.store.Get(r.Context(), id)
	if errors.Is(err, database.ErrAlertNotFound) {
		writeError(w, "Alert not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("Failed to load alert", "id", id, "error", err)
		writeError(w, "Failed to load alert", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(alert))
}

func (a *api) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats(r.Context(), a.limits.CriticalThreshold)
	if err != nil {
		log.Error("Failed to compute alert stats", "error", err)
		writeError(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) getMap(w http.ResponseWriter, r *http.Request) {
	points, err := a.store.MapPoints(r.Context())
	if err != nil {
		log.Error("Failed to load map points", "error", err)
		writeError(w, "Failed to load map data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func (a *api) updateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAlertID(w, r)
	if !ok {
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status, err := domain.ParseAlertStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeError(w, "Invalid status", http.StatusBadRequest)
		return
	}

	if err := a.store.UpdateStatus(r.Context(), id, status); err != nil {
		switch {
		case errors.Is(err, database.ErrAlertNotFound):
			writeError(w, "Alert not found", http.StatusNotFound)
		case errors.Is(err, database.ErrInvalidStatus):
			writeError(w, "Invalid status", http.StatusBadRequest)
		default:
			log.Error("Failed to update alert status", "id", id, "error", err)
			writeError(w, "Failed to update alert", http.StatusInternalServerError)
		}
		return
	}

	subject, _ := auth.GetSubjectFromRequest(r)
	log.Info("Alert status changed", "id", id, "status", status, "by", subject)

	alert, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, "Failed to load alert", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(alert))
}

func parseAlertID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, "Invalid alert id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}
