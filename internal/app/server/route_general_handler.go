package server

import (
	"net/http"

	"github.com/charmbracelet/log"

	"socwatch/internal/app/version"
)

type healthResponse struct {
	Status    string       `json:"status"`
	Version   version.Info `json:"version"`
	Instances int          `json:"instances,omitempty"`
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			log.Warn("Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Version: version.Get()})
			return
		}
	}
	resp := healthResponse{Status: "ok", Version: version.Get()}
	if a.instances != nil {
		count, err := a.instances(r.Context())
		if err != nil {
			log.Warn("Failed to count active instances", "error", err)
		} else {
			resp.Instances = count
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
