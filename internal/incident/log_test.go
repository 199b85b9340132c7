package incident

import (
	"errors"
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/events"
	"github.com/example/fleet-dispatch/internal/models"
)

func newTestLog() *Log {
	l := NewLog(nil, nil)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	return l
}

func TestReportValidatesInput(t *testing.T) {
	l := newTestLog()

	cases := []struct {
		name     string
		category models.IncidentCategory
		severity models.IncidentSeverity
		driverID string
	}{
		{"unknown category", "meteor_strike", models.SeverityLow, "d1"},
		{"unknown severity", models.IncidentDelay, "catastrophic", "d1"},
		{"missing driver", models.IncidentDelay, models.SeverityLow, ""},
	}
	for _, tc := range cases {
		if _, err := l.Report(tc.category, tc.severity, "desc", tc.driverID, ""); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
	if len(l.incidents) != 0 {
		t.Fatalf("rejected reports must not be stored")
	}
}

func TestReportStartsInReportedState(t *testing.T) {
	l := newTestLog()
	inc, err := l.Report(models.IncidentBreakdown, models.SeverityMedium, "flat tyre", "d1", "a1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if inc.ID == "" || inc.Status != models.IncidentReported {
		t.Fatalf("expected reported incident with id, got %+v", inc)
	}
	got, ok := l.Get(inc.ID)
	if !ok || got.AssignmentID != "a1" {
		t.Fatalf("incident not retrievable by id")
	}
}

func TestStatusMovesForwardOnly(t *testing.T) {
	l := newTestLog()
	inc, _ := l.Report(models.IncidentDelay, models.SeverityLow, "traffic", "d1", "")

	acked, err := l.Acknowledge(inc.ID)
	if err != nil || acked.Status != models.IncidentAcknowledged {
		t.Fatalf("acknowledge: %v %+v", err, acked)
	}

	resolved, err := l.Resolve(inc.ID, "cleared")
	if err != nil || resolved.Status != models.IncidentResolved {
		t.Fatalf("resolve: %v %+v", err, resolved)
	}
	if resolved.ResolutionNote != "cleared" {
		t.Fatalf("expected resolution note, got %q", resolved.ResolutionNote)
	}

	// acknowledging after resolve is a no-op, never a regression
	again, err := l.Acknowledge(inc.ID)
	if err != nil || again.Status != models.IncidentResolved {
		t.Fatalf("acknowledge after resolve must not regress, got %v %s", err, again.Status)
	}
}

func TestResolveIdempotent(t *testing.T) {
	l := newTestLog()
	inc, _ := l.Report(models.IncidentDamage, models.SeverityHigh, "scratched cargo", "d1", "")

	first, err := l.Resolve(inc.ID, "customer compensated")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := l.Resolve(inc.ID, "different note")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ResolutionNote != first.ResolutionNote {
		t.Fatalf("repeat resolve must not overwrite the note")
	}
}

func TestUnknownIncidentID(t *testing.T) {
	l := newTestLog()
	if _, err := l.Acknowledge("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.Resolve("nope", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasOpenCriticalTracksLifecycle(t *testing.T) {
	l := newTestLog()

	low, _ := l.Report(models.IncidentComplaint, models.SeverityLow, "late", "d1", "")
	if l.HasOpenCritical("d1") {
		t.Fatalf("low severity must not flag the driver")
	}

	crit1, _ := l.Report(models.IncidentAccident, models.SeverityCritical, "collision", "d1", "")
	crit2, _ := l.Report(models.IncidentBreakdown, models.SeverityCritical, "engine fire", "d1", "")
	if !l.HasOpenCritical("d1") {
		t.Fatalf("open critical must flag the driver")
	}

	// acknowledging does not close the incident
	l.Acknowledge(crit1.ID)
	if !l.HasOpenCritical("d1") {
		t.Fatalf("acknowledged critical is still open")
	}

	l.Resolve(crit1.ID, "")
	if !l.HasOpenCritical("d1") {
		t.Fatalf("one of two criticals resolved, driver must stay flagged")
	}
	l.Resolve(crit2.ID, "")
	if l.HasOpenCritical("d1") {
		t.Fatalf("all criticals resolved, flag must clear")
	}

	l.Resolve(low.ID, "")
	if got := l.ByDriver("d1"); len(got) != 3 {
		t.Fatalf("expected full history of 3 incidents, got %d", len(got))
	}
}

type failingStore struct{ err error }

func (f failingStore) SaveIncident(*models.Incident) error   { return f.err }
func (f failingStore) UpdateIncident(*models.Incident) error { return f.err }

func TestStoreErrorSurfaces(t *testing.T) {
	boom := errors.New("db down")
	l := NewLog(failingStore{err: boom}, nil)
	if _, err := l.Report(models.IncidentOther, models.SeverityLow, "x", "d1", ""); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

type captureBus struct{ evs []events.Event }

func (c *captureBus) Publish(ev events.Event) error {
	c.evs = append(c.evs, ev)
	return nil
}

func TestReportPublishesDomainEvent(t *testing.T) {
	bus := &captureBus{}
	l := NewLog(nil, bus)

	inc, err := l.Report(models.IncidentAccident, models.SeverityHigh, "collision", "d1", "a1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(bus.evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(bus.evs))
	}
	ev := bus.evs[0]
	if ev.Type != events.IncidentReported || ev.IncidentID != inc.ID || ev.DriverID != "d1" || ev.AssignmentID != "a1" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// a rejected report must not emit
	if _, err := l.Report("meteor_strike", models.SeverityHigh, "x", "d1", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(bus.evs) != 1 {
		t.Fatalf("rejected report must not publish, got %d events", len(bus.evs))
	}
}
