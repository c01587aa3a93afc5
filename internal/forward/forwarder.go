package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"socwatch/internal/domain"
	"socwatch/internal/metrics"
)

// Envelope is the JSON document published to every sink.
type Envelope struct {
	EventID     string       `json:"event_id"`
	PublishedAt time.Time    `json:"published_at"`
	Alert       domain.Alert `json:"alert"`
}

type Sink interface {
	Name() string
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Forwarder fans persisted alerts out to downstream consumers. A nil
// *Forwarder forwards nothing.
type Forwarder struct {
	sinks   []Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewForwarder(m *metrics.Metrics, sinks ...Sink) *Forwarder {
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &Forwarder{sinks: active, metrics: m, now: time.Now}
}

func (f *Forwarder) Sinks() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Forward publishes alert to every sink. Failures of individual sinks are
// joined; the remaining sinks are still attempted.
func (f *Forwarder) Forward(ctx context.Context, alert domain.Alert) error {
	if f == nil || len(f.sinks) == 0 {
		return nil
	}

	envelope := Envelope{
		EventID:     uuid.NewString(),
		PublishedAt: f.now().UTC(),
		Alert:       alert,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("forward: marshal envelope: %w", err)
	}

	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, alert.IPAddress, payload); err != nil {
			f.metrics.IncForwardError(sink.Name())
			errs = append(errs, fmt.Errorf("forward: %s: %w", sink.Name(), err))
			continue
		}
		log.Debug("Alert forwarded", "sink", sink.Name(), "event_id", envelope.EventID, "alert_id", alert.ID)
	}

	return errors.Join(errs...)
}

func (f *Forwarder) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("forward: close %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
