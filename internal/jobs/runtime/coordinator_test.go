package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"socwatch/internal/database"
	"socwatch/internal/detection"
	"socwatch/internal/domain"
	"socwatch/internal/geo"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

type scriptedSource struct {
	mu     sync.Mutex
	order  []string
	lines  map[string][]string
	reads  []string
	onIdle func()
}

func newScriptedSource(order ...string) *scriptedSource {
	return &scriptedSource{order: order, lines: make(map[string][]string)}
}

func (s *scriptedSource) push(stream string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[stream] = append(s.lines[stream], lines...)
}

func (s *scriptedSource) Streams() []string { return s.order }

func (s *scriptedSource) Next(stream string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.lines[stream]
	if len(pending) == 0 {
		if s.onIdle != nil && s.empty() {
			s.onIdle()
		}
		return "", false
	}
	s.lines[stream] = pending[1:]
	s.reads = append(s.reads, stream+":"+pending[0])
	return pending[0], true
}

func (s *scriptedSource) empty() bool {
	for _, pending := range s.lines {
		if len(pending) > 0 {
			return false
		}
	}
	return true
}

type memoryStore struct {
	alerts []domain.Alert
	err    error
}

func (m *memoryStore) Create(_ context.Context, alert *domain.Alert) (uint, error) {
	if m.err != nil {
		return 0, m.err
	}
	alert.ID = uint(len(m.alerts) + 1)
	m.alerts = append(m.alerts, *alert)
	return alert.ID, nil
}

type recordingNotifier struct {
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	n.calls = append(n.calls, fmt.Sprintf("%s|%s|%s", recipient, subject, body))
	return n.err
}

type fixedLocator struct {
	loc   geo.Location
	calls int
}

func (f *fixedLocator) Lookup(context.Context, string) geo.Location {
	f.calls++
	return f.loc
}

type recordingForwarder struct {
	alerts []domain.Alert
}

func (f *recordingForwarder) Forward(_ context.Context, alert domain.Alert) error {
	f.alerts = append(f.alerts, alert)
	return errors.New("sink offline")
}

func clockAt(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2024, 5, 1, hour, 30, 0, 0, time.Local)
	}
}

func newTestCoordinator(store AlertWriter, notifier *recordingNotifier, locator Locator, hour int) *Coordinator {
	clock := clockAt(hour)
	return NewCoordinator(Deps{
		Classifier: detection.NewClassifier(nil),
		Scorer:     detection.NewRiskScorer(clock),
		Geo:        locator,
		Store:      store,
		Notifier:   notifier,
		Clock:      clock,
		Settings: Settings{
			RiskThreshold:  85,
			AlertRecipient: "admin@example.com",
			PollInterval:   5 * time.Millisecond,
		},
	})
}

const firewallLine = "[2024-05-01 12:30:00] [FIREWALL] High traffic detected: 3000 packets/sec from 67.22.90.5"

func TestProcessLineFirewallDDoS(t *testing.T) {
	store := &memoryStore{}
	notifier := &recordingNotifier{}
	locator := &fixedLocator{loc: geo.Location{Lat: 40.7, Lon: -74, Country: "United States", City: "New York", ISP: "Example"}}
	coord := newTestCoordinator(store, notifier, locator, 12)

	alert, err := coord.ProcessLine(context.Background(), "firewall", firewallLine)
	if err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if alert == nil || len(store.alerts) != 1 {
		t.Fatalf("expected one persisted alert, got %+v", store.alerts)
	}

	got := store.alerts[0]
	if got.AttackType != domain.LabelDDoS || got.RiskScore != 80 {
		t.Fatalf("alert = %+v", got)
	}
	if got.IPAddress != "67.22.90.5" || got.Timestamp != "2024-05-01 12:30:00" {
		t.Fatalf("alert identity = %+v", got)
	}
	if got.Status != domain.AlertStatusNew || got.Country != "United States" || got.Lat != 40.7 {
		t.Fatalf("alert enrichment = %+v", got)
	}
	if !strings.Contains(got.Summary, "Denial of Service") {
		t.Fatalf("summary = %q", got.Summary)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("score 80 must not notify, got %v", notifier.calls)
	}
}

func TestProcessLineNotifiesAboveThreshold(t *testing.T) {
	store := &memoryStore{}
	notifier := &recordingNotifier{}
	coord := newTestCoordinator(store, notifier, &fixedLocator{loc: geo.UnknownLocation}, 2)

	alert, err := coord.ProcessLine(context.Background(), "firewall", firewallLine)
	if err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if alert.RiskScore != 90 {
		t.Fatalf("risk = %d, want 90 in the midnight window", alert.RiskScore)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
	want := "admin@example.com|Critical SOC Alert: ddos|" + alert.Summary
	if notifier.calls[0] != want {
		t.Fatalf("notification = %q, want %q", notifier.calls[0], want)
	}
}

func TestProcessLineThresholdIsStrict(t *testing.T) {
	store := &memoryStore{}
	notifier := &recordingNotifier{}
	coord := newTestCoordinator(store, notifier, nil, 12)
	coord.deps.Settings.RiskThreshold = 80

	if _, err := coord.ProcessLine(context.Background(), "firewall", firewallLine); err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatal("score equal to the threshold must not notify")
	}
}

func TestProcessLineDropsNormalAndUnaddressedLines(t *testing.T) {
	store := &memoryStore{}
	locator := &fixedLocator{}
	coord := newTestCoordinator(store, &recordingNotifier{}, locator, 12)

	lines := []string{
		"[2024-05-01 12:30:00] [AUTH] Successful login for user 'alice' from 45.33.21.9",
		"[2024-05-01 12:30:00] [AUTH] Failed login for user 'root' from unknown host",
	}
	for _, line := range lines {
		alert, err := coord.ProcessLine(context.Background(), "auth", line)
		if err != nil || alert != nil {
			t.Fatalf("ProcessLine(%q) = %+v, %v", line, alert, err)
		}
	}
	if len(store.alerts) != 0 || locator.calls != 0 {
		t.Fatalf("dropped lines must have no side effects: alerts=%d lookups=%d", len(store.alerts), locator.calls)
	}
}

func TestProcessLinePersistFailureSkipsNotification(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	notifier := &recordingNotifier{}
	coord := newTestCoordinator(store, notifier, nil, 2)

	if _, err := coord.ProcessLine(context.Background(), "firewall", firewallLine); err == nil {
		t.Fatal("expected persistence error")
	}
	if len(notifier.calls) != 0 {
		t.Fatal("notification sent for an alert that was not persisted")
	}
}

func TestProcessLineForwardFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{}
	forwarder := &recordingForwarder{}
	coord := newTestCoordinator(store, &recordingNotifier{}, nil, 12)
	coord.deps.Forwarder = forwarder

	alert, err := coord.ProcessLine(context.Background(), "firewall", firewallLine)
	if err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if len(forwarder.alerts) != 1 || forwarder.alerts[0].ID != alert.ID {
		t.Fatalf("forwarded = %+v", forwarder.alerts)
	}
}

func TestProcessLineNotificationFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{}
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	coord := newTestCoordinator(store, notifier, nil, 2)

	if _, err := coord.ProcessLine(context.Background(), "firewall", firewallLine); err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if len(store.alerts) != 1 {
		t.Fatal("alert should stay persisted when notification fails")
	}
}

func TestRunRoundRobinsStreams(t *testing.T) {
	source := newScriptedSource("auth", "network", "firewall")
	source.push("auth",
		"[t] [AUTH] Failed login for user 'root' from 45.33.21.9",
		"[t] [AUTH] Failed login for user 'admin' from 45.33.21.10",
	)
	source.push("network", "[t] [NET] Port scan detected from 185.220.101.4")
	source.push("firewall", firewallLine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source.onIdle = cancel

	store := &memoryStore{}
	coord := newTestCoordinator(store, &recordingNotifier{}, nil, 12)
	coord.deps.Source = source

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	wantTypes := []string{domain.LabelBruteForce, domain.LabelPortScan, domain.LabelDDoS, domain.LabelBruteForce}
	if len(store.alerts) != len(wantTypes) {
		t.Fatalf("got %d alerts, want %d", len(store.alerts), len(wantTypes))
	}
	for i, want := range wantTypes {
		if store.alerts[i].AttackType != want {
			t.Fatalf("alert %d type = %s, want %s (reads %v)", i, store.alerts[i].AttackType, want, source.reads)
		}
	}
}

func TestRunWithoutSource(t *testing.T) {
	coord := NewCoordinator(Deps{})
	if err := coord.Run(context.Background()); err == nil {
		t.Fatal("expected error without a line source")
	}
}

func TestStartCoordinatorWithoutRedisRunsDirectly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord := newTestCoordinator(&memoryStore{}, &recordingNotifier{}, nil, 12)
	coord.deps.Source = newScriptedSource()
	if err := StartCoordinator(ctx, coord, nil); err != nil {
		t.Fatalf("StartCoordinator returned error: %v", err)
	}
}

func openTestStore(t *testing.T) *database.AlertStore {
	t.Helper()
	db, err := database.SetupDB(
		database.WithDialector(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))),
		database.WithLogger(logger.Default.LogMode(logger.Silent)),
	)
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}
	t.Cleanup(func() { database.DB = nil })
	return database.NewAlertStore(db)
}

func TestProcessLinePersistsThroughAlertStore(t *testing.T) {
	store := openTestStore(t)
	coord := newTestCoordinator(store, &recordingNotifier{}, nil, 12)

	alert, err := coord.ProcessLine(context.Background(), "network", "[2024-05-01 12:30:00] [NET] Suspicious outbound connection to C2 server from 10.0.0.8")
	if err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}

	stored, err := store.Get(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.AttackType != domain.LabelMalware || stored.RiskScore != 90 {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.Country != "Unknown" {
		t.Fatalf("country = %q, want Unknown without a locator", stored.Country)
	}
	if !strings.Contains(stored.Summary, "Command & Control") {
		t.Fatalf("summary missing command-and-control warning: %q", stored.Summary)
	}
}

// cancellingLocator stops the run while a line is mid-pipeline.
type cancellingLocator struct {
	cancel   context.CancelFunc
	ctxAlive bool
}

func (l *cancellingLocator) Lookup(ctx context.Context, _ string) geo.Location {
	l.cancel()
	l.ctxAlive = ctx.Err() == nil
	return geo.UnknownLocation
}

func TestRunPersistsInFlightLineAfterCancel(t *testing.T) {
	store := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := newScriptedSource("firewall")
	source.push("firewall", firewallLine)
	locator := &cancellingLocator{cancel: cancel}

	coord := newTestCoordinator(store, &recordingNotifier{}, locator, 12)
	coord.deps.Source = source

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if !locator.ctxAlive {
		t.Fatal("line context was cancelled together with the run")
	}
	alerts, err := store.List(context.Background(), database.AlertFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AttackType != domain.LabelDDoS {
		t.Fatalf("alerts after stop = %+v, want the in-flight ddos alert", alerts)
	}
}

type blockingForwarder struct {
	err error
}

func (f *blockingForwarder) Forward(ctx context.Context, _ domain.Alert) error {
	<-ctx.Done()
	f.err = ctx.Err()
	return f.err
}

func TestProcessLineBoundsForwarding(t *testing.T) {
	store := &memoryStore{}
	forwarder := &blockingForwarder{}
	coord := newTestCoordinator(store, &recordingNotifier{}, nil, 12)
	coord.deps.Forwarder = forwarder
	coord.deps.Settings.ForwardTimeout = 20 * time.Millisecond

	start := time.Now()
	alert, err := coord.ProcessLine(context.Background(), "firewall", firewallLine)
	if err != nil || alert == nil {
		t.Fatalf("ProcessLine = %+v, %v", alert, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("forwarding blocked the worker for %s", elapsed)
	}
	if !errors.Is(forwarder.err, context.DeadlineExceeded) {
		t.Fatalf("forward ctx err = %v, want deadline exceeded", forwarder.err)
	}
}

func TestNewCoordinatorDefaultsForwardTimeout(t *testing.T) {
	coord := NewCoordinator(Deps{})
	if coord.deps.Settings.ForwardTimeout != DefaultForwardTimeout {
		t.Fatalf("forward timeout = %s", coord.deps.Settings.ForwardTimeout)
	}
}

func TestProcessLineReadsLiveSettings(t *testing.T) {
	store := &memoryStore{}
	notifier := &recordingNotifier{}
	coord := newTestCoordinator(store, notifier, nil, 12)

	threshold := 85
	coord.deps.LiveSettings = func() Settings {
		return Settings{RiskThreshold: threshold, AlertRecipient: "soc@example.com"}
	}

	if _, err := coord.ProcessLine(context.Background(), "firewall", firewallLine); err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("score 80 notified under threshold 85: %v", notifier.calls)
	}

	threshold = 70
	if _, err := coord.ProcessLine(context.Background(), "firewall", firewallLine); err != nil {
		t.Fatalf("ProcessLine returned error: %v", err)
	}
	if len(notifier.calls) != 1 || !strings.HasPrefix(notifier.calls[0], "soc@example.com|") {
		t.Fatalf("notifications = %v, want one to the updated recipient", notifier.calls)
	}
}
