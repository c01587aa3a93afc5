package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"socwatch/internal/domain"
)

var (
	ErrAlertNotFound = errors.New("database: alert not found")
	ErrInvalidStatus = errors.New("database: invalid alert status")
)

type AlertFilter struct {
	AttackType string
	Status     domain.AlertStatus
	MinRisk    int
	IP         string
	Limit      int
}

type AlertStats struct {
	Total       int64            `json:"total"`
	Critical    int64            `json:"critical"`
	AttackTypes map[string]int64 `json:"attack_types"`
}

type MapPoint struct {
	ID         uint    `json:"id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AttackType string  `json:"type"`
	RiskScore  int     `json:"risk"`
	Country    string  `json:"country"`
}

// AlertStore persists alerts. Every call is a single statement or a single
// transaction, so readers never observe a partially written alert.
type AlertStore struct {
	db *gorm.DB
}

// NewAlertStore falls back to the package connection when db is nil.
func NewAlertStore(db *gorm.DB) *AlertStore {
	if db == nil {
		db = DB
	}
	return &AlertStore{db: db}
}

// Create inserts alert with status New and returns the assigned ID once the
// transaction has committed.
func (s *AlertStore) Create(ctx context.Context, alert *domain.Alert) (uint, error) {
	if alert == nil {
		return 0, fmt.Errorf("database: create alert: nil alert")
	}

	alert.ID = 0
	alert.Status = domain.AlertStatusNew
	alert.RiskScore = domain.ClampRiskScore(alert.RiskScore)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(alert).Error
	})
	if err != nil {
		return 0, fmt.Errorf("database: create alert: %w", err)
	}

	return alert.ID, nil
}

func (s *AlertStore) List(ctx context.Context, filter AlertFilter) ([]domain.Alert, error) {
	query := s.db.WithContext(ctx).Model(&domain.Alert{})

	if filter.AttackType != "" {
		query = query.Where("attack_type = ?", filter.AttackType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.MinRisk > 0 {
		query = query.Where("risk_score >= ?", filter.MinRisk)
	}
	if filter.IP != "" {
		query = query.Where("ip_address = ?", filter.IP)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	alerts := make([]domain.Alert, 0)
	if err := query.Order("id DESC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("database: list alerts: %w", err)
	}
	return alerts, nil
}

func (s *AlertStore) Get(ctx context.Context, id uint) (domain.Alert, error) {
	var alert domain.Alert
	err := s.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("database: get alert %d: %w", id, err)
	}
	return alert, nil
}

// Stats counts alerts overall, above criticalThreshold, and per attack type.
func (s *AlertStore) Stats(ctx context.Context, criticalThreshold int) (AlertStats, error) {
	stats := AlertStats{AttackTypes: make(map[string]int64)}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []struct {
			AttackType string
			Count      int64
		}
		if err := tx.Model(&domain.Alert{}).
			Select("attack_type, COUNT(*) AS count").
			Group("attack_type").
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			stats.AttackTypes[row.AttackType] = row.Count
			stats.Total += row.Count
		}

		return tx.Model(&domain.Alert{}).
			Where("risk_score > ?", criticalThreshold).
			Count(&stats.Critical).Error
	})
	if err != nil {
		return AlertStats{}, fmt.Errorf("database: alert stats: %w", err)
	}

	return stats, nil
}

// MapPoints returns alerts that carry real coordinates.
func (s *AlertStore) MapPoints(ctx context.Context) ([]MapPoint, error) {
	points := make([]MapPoint, 0)
	err := s.db.WithContext(ctx).Model(&domain.Alert{}).
		Select("id, lat, lon, attack_type, risk_score, country").
		Where("lat <> 0 AND lon <> 0").
		Order("id DESC").
		Scan(&points).Error
	if err != nil {
		return nil, fmt.Errorf("database: map points: %w", err)
	}
	return points, nil
}

// UpdateStatus applies an operator status transition.
func (s *AlertStore) UpdateStatus(ctx context.Context, id uint, status domain.AlertStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	result := s.db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ?", id).
		UpdateColumn("status", status)
	if result.Error != nil {
		return fmt.Errorf("database: update alert %d status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}
