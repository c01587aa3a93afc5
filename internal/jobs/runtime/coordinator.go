package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"socwatch/internal/detection"
	"socwatch/internal/domain"
	"socwatch/internal/geo"
	"socwatch/internal/ingest"
	"socwatch/internal/metrics"
	"socwatch/internal/notify"
)

const (
	DefaultPollInterval   = time.Second
	DefaultForwardTimeout = 5 * time.Second
	alertSubjectPrefix    = "Critical SOC Alert: "
)

type LineSource interface {
	Streams() []string
	Next(stream string) (string, bool)
}

type AlertWriter interface {
	Create(ctx context.Context, alert *domain.Alert) (uint, error)
}

type Locator interface {
	Lookup(ctx context.Context, ip string) geo.Location
}

type AlertForwarder interface {
	Forward(ctx context.Context, alert domain.Alert) error
}

type Settings struct {
	RiskThreshold  int
	AlertRecipient string
	PollInterval   time.Duration
	ForwardTimeout time.Duration
}

// Deps is assembled once at startup and never mutated afterwards.
// LiveSettings, when set, is consulted for every line and every idle round
// so threshold and recipient changes apply without a restart.
type Deps struct {
	Source     LineSource
	Classifier *detection.Classifier
	Scorer     *detection.RiskScorer
	Geo        Locator
	Store      AlertWriter
	Notifier   notify.Notifier
	Forwarder  AlertForwarder
	Metrics    *metrics.Metrics
	Clock      func() time.Time
	Settings   Settings

	LiveSettings func() Settings
}

// Coordinator is the single writer of the pipeline: it drains every stream
// round-robin and turns suspicious lines into persisted alerts.
type Coordinator struct {
	deps Deps
}

func NewCoordinator(deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Classifier == nil {
		deps.Classifier = detection.NewClassifier(nil)
	}
	if deps.Scorer == nil {
		deps.Scorer = detection.NewRiskScorer(deps.Clock)
	}
	deps.Settings = withSettingDefaults(deps.Settings)
	return &Coordinator{deps: deps}
}

func withSettingDefaults(settings Settings) Settings {
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}
	if settings.ForwardTimeout <= 0 {
		settings.ForwardTimeout = DefaultForwardTimeout
	}
	return settings
}

func (c *Coordinator) settings() Settings {
	if c.deps.LiveSettings == nil {
		return c.deps.Settings
	}
	return withSettingDefaults(c.deps.LiveSettings())
}

// Run processes lines until ctx is cancelled. Each round reads at most one
// line per stream in configured order; the coordinator only sleeps after a
// round in which no stream had data. Cancellation is observed between
// rounds: a line already read is processed and persisted in full.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.deps.Source == nil {
		return fmt.Errorf("runtime: coordinator has no line source")
	}

	streams := c.deps.Source.Streams()
	if len(streams) == 0 {
		log.Warn("No log streams available, coordinator idle")
	}
	log.Info("Coordinator started", "streams", streams, "threshold", c.settings().RiskThreshold)

	lineCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(c.deps.Settings.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("Coordinator stopped")
			return nil
		}

		processed := false
		for _, stream := range streams {
			line, ok := c.deps.Source.Next(stream)
			if !ok {
				continue
			}
			processed = true

			if _, err := c.ProcessLine(lineCtx, stream, line); err != nil {
				log.Error("Failed to process log line", "stream", stream, "error", err)
			}
		}

		if processed {
			continue
		}

		resetTimer(timer, c.settings().PollInterval)
		select {
		case <-ctx.Done():
			log.Info("Coordinator stopped")
			return nil
		case <-timer.C:
		}
	}
}

// ProcessLine runs one line through the pipeline. It returns the persisted
// alert, or nil when the line was dropped or classified as normal. Only a
// persistence failure is reported as an error.
func (c *Coordinator) ProcessLine(ctx context.Context, category, line string) (*domain.Alert, error) {
	c.deps.Metrics.IncLine(category)
	defer c.deps.Metrics.ObserveLine(time.Now())

	settings := c.settings()

	event, ok := ingest.Parse(line, category, c.deps.Clock())
	if !ok {
		c.deps.Metrics.IncDropped("no_ip")
		return nil, nil
	}

	attackType := c.deps.Classifier.Classify(event)
	if attackType == domain.LabelNormal {
		c.deps.Metrics.IncDropped("normal")
		return nil, nil
	}

	score := c.deps.Scorer.Score(attackType, 0)

	location := geo.UnknownLocation
	if c.deps.Geo != nil {
		location = c.deps.Geo.Lookup(ctx, event.IP)
	}

	alert := &domain.Alert{
		Timestamp:  event.Timestamp,
		IPAddress:  event.IP,
		AttackType: attackType,
		RiskScore:  score,
		Status:     domain.AlertStatusNew,
		Summary:    detection.Summarize(event.IP, attackType, score, event.Timestamp, event.Raw),
		Lat:        location.Lat,
		Lon:        location.Lon,
		Country:    location.Country,
		ISP:        location.ISP,
	}

	if c.deps.Store == nil {
		return nil, fmt.Errorf("runtime: no alert store configured")
	}
	id, err := c.deps.Store.Create(ctx, alert)
	if err != nil {
		c.deps.Metrics.IncPersistError()
		return nil, fmt.Errorf("runtime: persist alert from %s: %w", event.IP, err)
	}
	alert.ID = id
	c.deps.Metrics.IncAlert(attackType)

	log.Warn("Alert detected",
		"id", id,
		"type", attackType,
		"ip", event.IP,
		"risk", score,
		"country", location.Country,
		"stream", category,
	)

	if score > settings.RiskThreshold {
		c.notify(ctx, settings.AlertRecipient, alert)
	}

	if c.deps.Forwarder != nil {
		forwardCtx, cancel := context.WithTimeout(ctx, settings.ForwardTimeout)
		err := c.deps.Forwarder.Forward(forwardCtx, *alert)
		cancel()
		if err != nil {
			log.Error("Failed to forward alert", "id", id, "error", err)
		}
	}

	return alert, nil
}

func (c *Coordinator) notify(ctx context.Context, recipient string, alert *domain.Alert) {
	if c.deps.Notifier == nil {
		return
	}

	subject := alertSubjectPrefix + alert.AttackType
	err := c.deps.Notifier.Notify(ctx, recipient, subject, alert.Summary)
	switch {
	case errors.Is(err, notify.ErrMissingCredentials):
		c.deps.Metrics.IncNotification("skipped")
	case err != nil:
		c.deps.Metrics.IncNotification("failed")
		log.Error("Failed to send alert notification", "id", alert.ID, "error", err)
	default:
		c.deps.Metrics.IncNotification("sent")
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
