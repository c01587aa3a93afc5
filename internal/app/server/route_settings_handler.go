package server

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"github.com/charmbracelet/log"

	"socwatch/internal/auth"
	"socwatch/internal/config"
	"socwatch/internal/domain"
)

// PipelineSettings reads and changes the live alerting settings.
type PipelineSettings interface {
	Pipeline() config.Pipeline
	UpdatePipeline(update func(p *config.Pipeline)) (config.Pipeline, error)
}

type settingsResponse struct {
	RiskThreshold  int    `json:"risk_threshold"`
	AlertRecipient string `json:"alert_recipient"`
}

type settingsUpdateRequest struct {
	RiskThreshold  *int    `json:"risk_threshold"`
	AlertRecipient *string `json:"alert_recipient"`
}

func toSettingsResponse(p config.Pipeline) settingsResponse {
	return settingsResponse{RiskThreshold: p.RiskThreshold, AlertRecipient: p.AlertRecipient}
}

func (a *api) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(a.settings.Pipeline()))
}

func (a *api) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RiskThreshold == nil && req.AlertRecipient == nil {
		writeError(w, "Nothing to update", http.StatusBadRequest)
		return
	}

	if req.RiskThreshold != nil && (*req.RiskThreshold < 1 || *req.RiskThreshold > domain.MaxRiskScore) {
		writeError(w, "Invalid risk_threshold", http.StatusBadRequest)
		return
	}

	var recipient string
	if req.AlertRecipient != nil {
		addr, err := mail.ParseAddress(strings.TrimSpace(*req.AlertRecipient))
		if err != nil {
			writeError(w, "Invalid alert_recipient", http.StatusBadRequest)
			return
		}
		recipient = addr.Address
	}

	updated, err := a.settings.UpdatePipeline(func(p *config.Pipeline) {
		if req.RiskThreshold != nil {
			p.RiskThreshold = *req.RiskThreshold
		}
		if recipient != "" {
			p.AlertRecipient = recipient
		}
	})
	if err != nil {
		log.Error("Failed to update pipeline settings", "error", err)
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	subject, _ := auth.GetSubjectFromRequest(r)
	log.Info("Pipeline settings changed", "threshold", updated.RiskThreshold, "recipient", updated.AlertRecipient, "by", subject)
	writeJSON(w, http.StatusOK, toSettingsResponse(updated))
}
