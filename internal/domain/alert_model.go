package domain

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	MinRiskScore = 0
	MaxRiskScore = 100
)

type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "New"
	AlertStatusInvestigating AlertStatus = "Investigating"
	AlertStatusResolved      AlertStatus = "Resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusNew, AlertStatusInvestigating, AlertStatusResolved:
		return true
	}
	return false
}

// ParseAlertStatus accepts the canonical status names, case-sensitively.
func ParseAlertStatus(raw string) (AlertStatus, error) {
	status := AlertStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("domain: unknown alert status %q", raw)
	}
	return status, nil
}

type Alert struct {
	ID         uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  string      `gorm:"size:50;not null" json:"timestamp"`
	IPAddress  string      `gorm:"size:50;not null;index" json:"ip"`
	AttackType string      `gorm:"size:50;not null;index" json:"type"`
	RiskScore  int         `gorm:"not null;index" json:"risk"`
	Status     AlertStatus `gorm:"size:20;not null;default:'New'" json:"status"`
	Summary    string      `gorm:"type:text" json:"summary"`

	Lat     float64 `gorm:"not null;default:0" json:"lat"`
	Lon     float64 `gorm:"not null;default:0" json:"lon"`
	Country string  `gorm:"size:100;not null;default:'Unknown'" json:"country"`
	ISP     string  `gorm:"column:isp;size:100;not null;default:'Unknown'" json:"isp"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (alert *Alert) BeforeSave(_ *gorm.DB) error {
	alert.RiskScore = ClampRiskScore(alert.RiskScore)
	if alert.Status == "" {
		alert.Status = AlertStatusNew
	}
	if !alert.Status.Valid() {
		return fmt.Errorf("domain: invalid alert status %q", alert.Status)
	}
	if alert.Country == "" {
		alert.Country = "Unknown"
	}
	if alert.ISP == "" {
		alert.ISP = "Unknown"
	}
	return nil
}

func ClampRiskScore(score int) int {
	if score < MinRiskScore {
		return MinRiskScore
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}
