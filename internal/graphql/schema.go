package graphql

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	gql "github.com/graphql-go/graphql"

	"socwatch/internal/database"
	"socwatch/internal/detection"
	"socwatch/internal/domain"
)

// AlertReader is the subset of the alert store the schema resolves against.
type AlertReader interface {
	List(ctx context.Context, filter database.AlertFilter) ([]domain.Alert, error)
	Get(ctx context.Context, id uint) (domain.Alert, error)
	Stats(ctx context.Context, criticalThreshold int) (database.AlertStats, error)
	UpdateStatus(ctx context.Context, id uint, status domain.AlertStatus) error
}

type Limits struct {
	CriticalThreshold int
	DefaultLimit      int
	MaxLimit          int
}

func NewSchema(store AlertReader, limits Limits) (gql.Schema, error) {
	if store == nil {
		return gql.Schema{}, errors.New("graphql: alert store is required")
	}

	alertType := gql.NewObject(gql.ObjectConfig{
		Name: "Alert",
		Fields: gql.Fields{
			"id":         &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"timestamp":  &gql.Field{Type: gql.NewNonNull(gql.String)},
			"ip":         &gql.Field{Type: gql.NewNonNull(gql.String)},
			"attackType": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"riskScore":  &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"severity":   &gql.Field{Type: gql.NewNonNull(gql.String)},
			"status":     &gql.Field{Type: gql.NewNonNull(gql.String)},
			"summary":    &gql.Field{Type: gql.NewNonNull(gql.String)},
			"lat":        &gql.Field{Type: gql.NewNonNull(gql.Float)},
			"lon":        &gql.Field{Type: gql.NewNonNull(gql.Float)},
			"country":    &gql.Field{Type: gql.NewNonNull(gql.String)},
			"isp":        &gql.Field{Type: gql.NewNonNull(gql.String)},
		},
	})

	attackTypeCountType := gql.NewObject(gql.ObjectConfig{
		Name: "AttackTypeCount",
		Fields: gql.Fields{
			"attackType": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"count":      &gql.Field{Type: gql.NewNonNull(gql.Int)},
		},
	})

	statsType := gql.NewObject(gql.ObjectConfig{
		Name: "AlertStats",
		Fields: gql.Fields{
			"total":       &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"critical":    &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"attackTypes": &gql.Field{Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(attackTypeCountType)))},
		},
	})

	queryType := gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"alerts": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(alertType))),
				Args: gql.FieldConfigArgument{
					"limit":      &gql.ArgumentConfig{Type: gql.Int},
					"attackType": &gql.ArgumentConfig{Type: gql.String},
					"status":     &gql.ArgumentConfig{Type: gql.String},
					"minRisk":    &gql.ArgumentConfig{Type: gql.Int},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					filter := database.AlertFilter{Limit: limits.clamp(p.Args["limit"])}
					if raw, ok := p.Args["attackType"].(string); ok {
						filter.AttackType = raw
					}
					if raw, ok := p.Args["status"].(string); ok && raw != "" {
						status, err := domain.ParseAlertStatus(raw)
						if err != nil {
							return nil, err
						}
						filter.Status = status
					}
					if raw, ok := p.Args["minRisk"].(int); ok {
						filter.MinRisk = raw
					}

					alerts, err := store.List(p.Context, filter)
					if err != nil {
						log.Error("graphql: list alerts", "error", err)
						return nil, errors.New("failed to load alerts")
					}
					return alertsToMaps(alerts), nil
				},
			},
			"alert": &gql.Field{
				Type: alertType,
				Args: gql.FieldConfigArgument{
					"id": &gql.ArgumentConfig{Type: gql.NewNonNull(gql.Int)},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(int)
					if id <= 0 {
						return nil, nil
					}
					alert, err := store.Get(p.Context, uint(id))
					if errors.Is(err, database.ErrAlertNotFound) {
						return nil, nil
					}
					if err != nil {
						log.Error("graphql: get alert", "id", id, "error", err)
						return nil, errors.New("failed to load alert")
					}
					return alertToMap(alert), nil
				},
			},
			"stats": &gql.Field{
				Type: gql.NewNonNull(statsType),
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					stats, err := store.Stats(p.Context, limits.CriticalThreshold)
					if err != nil {
						log.Error("graphql: alert stats", "error", err)
						return nil, errors.New("failed to load stats")
					}
					return statsToMap(stats), nil
				},
			},
		},
	})

	mutationType := gql.NewObject(gql.ObjectConfig{
		Name: "Mutation",
		Fields: gql.Fields{
			"updateAlertStatus": &gql.Field{
				Type: gql.NewNonNull(alertType),
				Args: gql.FieldConfigArgument{
					"id":     &gql.ArgumentConfig{Type: gql.NewNonNull(gql.Int)},
					"status": &gql.ArgumentConfig{Type: gql.NewNonNull(gql.String)},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					subject, err := SubjectFromContext(p.Context)
					if err != nil {
						return nil, err
					}

					id, _ := p.Args["id"].(int)
					raw, _ := p.Args["status"].(string)
					status, err := domain.ParseAlertStatus(raw)
					if err != nil {
						return nil, err
					}
					if id <= 0 {
						return nil, fmt.Errorf("invalid alert id %d", id)
					}

					if err := store.UpdateStatus(p.Context, uint(id), status); err != nil {
						if errors.Is(err, database.ErrAlertNotFound) {
							return nil, fmt.Errorf("alert %d not found", id)
						}
						log.Error("graphql: update alert status", "id", id, "error", err)
						return nil, errors.New("failed to update alert")
					}
					log.Info("Alert status changed", "id", id, "status", status, "by", subject)

					alert, err := store.Get(p.Context, uint(id))
					if err != nil {
						return nil, errors.New("failed to load alert")
					}
					return alertToMap(alert), nil
				},
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

func (l Limits) clamp(raw interface{}) int {
	limit, ok := raw.(int)
	if !ok || limit <= 0 {
		limit = l.DefaultLimit
	}
	if l.MaxLimit > 0 && limit > l.MaxLimit {
		limit = l.MaxLimit
	}
	return limit
}

func alertToMap(alert domain.Alert) map[string]interface{} {
	return map[string]interface{}{
		"id":         int(alert.ID),
		"timestamp":  alert.Timestamp,
		"ip":         alert.IPAddress,
		"attackType": alert.AttackType,
		"riskScore":  alert.RiskScore,
		"severity":   detection.Severity(alert.RiskScore),
		"status":     string(alert.Status),
		"summary":    alert.Summary,
		"lat":        alert.Lat,
		"lon":        alert.Lon,
		"country":    alert.Country,
		"isp":        alert.ISP,
	}
}

func alertsToMaps(alerts []domain.Alert) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alertToMap(alert))
	}
	return out
}

func statsToMap(stats database.AlertStats) map[string]interface{} {
	types := make([]string, 0, len(stats.AttackTypes))
	for attackType := range stats.AttackTypes {
		types = append(types, attackType)
	}
	sort.Strings(types)

	counts := make([]map[string]interface{}, 0, len(types))
	for _, attackType := range types {
		counts = append(counts, map[string]interface{}{
			"attackType": attackType,
			"count":      int(stats.AttackTypes[attackType]),
		})
	}

	return map[string]interface{}{
		"total":       int(stats.Total),
		"critical":    int(stats.Critical),
		"attackTypes": counts,
	}
}
