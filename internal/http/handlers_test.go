package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/fleet-dispatch/internal/dispatch"
	"github.com/example/fleet-dispatch/internal/incident"
	"github.com/example/fleet-dispatch/internal/logging"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/registry"
	"github.com/example/fleet-dispatch/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *registry.Index) {
	t.Helper()
	logger := logging.NewLoggerTo(io.Discard, "error")
	store := storage.NewMemoryStore()
	incidents := incident.NewLog(store, nil)
	reg := registry.NewIndex(incidents)
	ctrl := dispatch.NewController(reg, store, nil, logger, models.DefaultRules(), true)
	return NewServer(ctrl, incidents, reg, notify.NewWSRegistry(logger), logger), reg
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createJob(t *testing.T, s *Server, vehicle string) models.Job {
	t.Helper()
	rec := doJSON(t, s, "POST", "/api/v1/jobs", map[string]interface{}{
		"pickup":           map[string]interface{}{"lat": 0.0, "lon": 0.0, "address": "Warehouse 4"},
		"dropoff":          map[string]interface{}{"lat": 0.1, "lon": 0.1, "address": "Depot 9"},
		"scheduled_at":     "2025-06-01T10:00:00Z",
		"required_vehicle": vehicle,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", rec.Code, rec.Body.String())
	}
	var job models.Job
	decodeBody(t, rec, &job)
	return job
}

func seedDriver(reg *registry.Index, id string, lat float64, vehicle models.VehicleClass) {
	rating := 4.5
	reg.Upsert(models.Driver{
		ID:           id,
		Availability: models.DriverOnline,
		Account:      models.AccountActive,
		Position:     &models.Coord{Lat: lat, Lon: 0},
		Rating:       &rating,
		Vehicle:      vehicle,
	})
}

func TestCreateAndFetchJob(t *testing.T) {
	s, _ := newTestServer(t)
	job := createJob(t, s, "car")
	if job.Status != models.JobDraft {
		t.Fatalf("expected DRAFT, got %s", job.Status)
	}

	rec := doJSON(t, s, "GET", "/api/v1/jobs/"+job.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job: status %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/api/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestCreateJobRejectsUnknownVehicle(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/jobs", map[string]interface{}{
		"pickup":           map[string]interface{}{"lat": 0.0, "lon": 0.0},
		"dropoff":          map[string]interface{}{"lat": 0.1, "lon": 0.1},
		"required_vehicle": "zeppelin",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAssignEndToEnd(t *testing.T) {
	s, reg := newTestServer(t)
	seedDriver(reg, "d1", 0.01, models.VehicleCar)
	job := createJob(t, s, "car")

	rec := doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{
		"job_id": job.ID, "auto_assign": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign: status %d body %s", rec.Code, rec.Body.String())
	}
	var a models.Assignment
	decodeBody(t, rec, &a)
	if a.DriverID != "d1" || a.JobID != job.ID {
		t.Fatalf("unexpected assignment %+v", a)
	}

	// a second assign on the same job conflicts
	rec = doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{
		"job_id": job.ID, "auto_assign": true,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/api/v1/assignments/"+a.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get assignment: status %d", rec.Code)
	}
}

func TestAssignErrorStatuses(t *testing.T) {
	s, reg := newTestServer(t)
	job := createJob(t, s, "car")

	// no drivers registered at all
	rec := doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{
		"job_id": job.ID, "auto_assign": true,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no candidates, got %d", rec.Code)
	}

	// manual pick of an ineligible driver
	offline := models.Driver{ID: "off", Availability: models.DriverOffline, Account: models.AccountActive, Position: &models.Coord{}, Vehicle: models.VehicleCar}
	reg.Upsert(offline)
	rec = doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{
		"job_id": job.ID, "driver_id": "off",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for ineligible driver, got %d", rec.Code)
	}

	// manual pick of an unknown driver
	rec = doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{
		"job_id": job.ID, "driver_id": "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown driver, got %d", rec.Code)
	}

	// missing job id
	rec = doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{"auto_assign": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing job_id, got %d", rec.Code)
	}
}

func TestProgressEventsOverHTTP(t *testing.T) {
	s, reg := newTestServer(t)
	seedDriver(reg, "d1", 0.01, models.VehicleCar)
	job := createJob(t, s, "car")

	rec := doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{"job_id": job.ID, "auto_assign": true})
	var a models.Assignment
	decodeBody(t, rec, &a)

	// out of order first
	rec = doJSON(t, s, "POST", fmt.Sprintf("/api/v1/assignments/%s/events", a.ID), map[string]string{"step": "picked_up"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for out-of-order step, got %d", rec.Code)
	}

	for _, step := range []string{"accepted", "picked_up", "in_transit", "completed"} {
		rec = doJSON(t, s, "POST", fmt.Sprintf("/api/v1/assignments/%s/events", a.ID), map[string]string{"step": step})
		if rec.Code != http.StatusOK {
			t.Fatalf("step %s: status %d body %s", step, rec.Code, rec.Body.String())
		}
	}

	rec = doJSON(t, s, "GET", "/api/v1/jobs/"+job.ID, nil)
	var got models.Job
	decodeBody(t, rec, &got)
	if got.Status != models.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestCancelJobOverHTTP(t *testing.T) {
	s, reg := newTestServer(t)
	seedDriver(reg, "d1", 0.01, models.VehicleCar)
	job := createJob(t, s, "car")
	doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{"job_id": job.ID, "auto_assign": true})

	rec := doJSON(t, s, "POST", "/api/v1/jobs/"+job.ID+"/cancel", map[string]string{"reason": "customer cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body.String())
	}
	var got models.Job
	decodeBody(t, rec, &got)
	if got.Status != models.JobCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}

	rec = doJSON(t, s, "POST", "/api/v1/jobs/"+job.ID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on repeat cancel, got %d", rec.Code)
	}
}

func TestIncidentEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/incidents", map[string]string{
		"category": "breakdown", "severity": "high", "description": "flat tyre", "driver_id": "d1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("report: status %d body %s", rec.Code, rec.Body.String())
	}
	var inc models.Incident
	decodeBody(t, rec, &inc)

	rec = doJSON(t, s, "POST", "/api/v1/incidents/"+inc.ID+"/ack", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: status %d", rec.Code)
	}
	rec = doJSON(t, s, "POST", "/api/v1/incidents/"+inc.ID+"/resolve", map[string]string{"note": "fixed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/incidents", map[string]string{
		"category": "volcano", "severity": "high", "driver_id": "d1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad category, got %d", rec.Code)
	}
	rec = doJSON(t, s, "POST", "/api/v1/incidents/missing/ack", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown incident, got %d", rec.Code)
	}
}

func TestAutoAssignAdminEndpoints(t *testing.T) {
	s, reg := newTestServer(t)
	seedDriver(reg, "d1", 0.01, models.VehicleCar)

	rec := doJSON(t, s, "POST", "/api/v1/auto-assign/toggle", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: status %d", rec.Code)
	}

	job := createJob(t, s, "car")
	rec = doJSON(t, s, "POST", "/api/v1/assign", map[string]interface{}{"job_id": job.ID, "auto_assign": true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while disabled, got %d", rec.Code)
	}

	rules := models.DefaultRules()
	rules.RadiusMeters = 2500
	rec = doJSON(t, s, "PUT", "/api/v1/auto-assign/rules", rules)
	if rec.Code != http.StatusOK {
		t.Fatalf("update rules: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "GET", "/api/v1/auto-assign/rules", nil)
	var got models.AutoAssignRules
	decodeBody(t, rec, &got)
	if got.RadiusMeters != 2500 {
		t.Fatalf("expected updated radius, got %v", got.RadiusMeters)
	}

	rules.MaxJobs = -1
	rec = doJSON(t, s, "PUT", "/api/v1/auto-assign/rules", rules)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid rules, got %d", rec.Code)
	}
}

func TestDriverSnapshotIngest(t *testing.T) {
	s, reg := newTestServer(t)

	rec := doJSON(t, s, "POST", "/internal/driver/snapshots", models.Driver{
		ID:           "d9",
		Availability: models.DriverOnline,
		Account:      models.AccountActive,
		Position:     &models.Coord{Lat: 1, Lon: 2},
		Vehicle:      models.VehicleSmallVan,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("snapshot: status %d body %s", rec.Code, rec.Body.String())
	}
	if _, ok := reg.Driver("d9"); !ok {
		t.Fatalf("snapshot not ingested into registry")
	}

	rec = doJSON(t, s, "POST", "/internal/driver/snapshots", models.Driver{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rec.Code)
	}
}

func TestWSSessionRemovedOnClose(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/d1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := s.WSReg.Notify("d1", notify.Offer{AssignmentID: "a1"}); err != nil {
		t.Fatalf("notify over live session: %v", err)
	}

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.WSReg.Notify("d1", notify.Offer{})
		if errors.Is(err, notify.ErrNoSession) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session not removed after close, last err: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: status %d body %q", rec.Code, rec.Body.String())
	}
}
