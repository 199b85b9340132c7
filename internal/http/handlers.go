package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-dispatch/internal/dispatch"
	"github.com/example/fleet-dispatch/internal/events"
	"github.com/example/fleet-dispatch/internal/incident"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/registry"
)

// Server is the thin HTTP shell over the dispatch core. It does request
// decoding, error mapping, and nothing else.
type Server struct {
	Controller *dispatch.Controller
	Incidents  *incident.Log
	Registry   *registry.Index
	Positions  *registry.RedisPositions // optional
	Producer   *events.KafkaProducer    // optional snapshot republish
	WSReg      *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(ctrl *dispatch.Controller, incidents *incident.Log, reg *registry.Index, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Controller: ctrl,
		Incidents:  incidents,
		Registry:   reg,
		WSReg:      wsreg,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods("POST")
	api.HandleFunc("/assign", s.handleAssign).Methods("POST")
	api.HandleFunc("/assignments/{id}", s.handleGetAssignment).Methods("GET")
	api.HandleFunc("/assignments/{id}/events", s.handleProgressEvent).Methods("POST")
	api.HandleFunc("/incidents", s.handleReportIncident).Methods("POST")
	api.HandleFunc("/incidents/{id}/ack", s.handleAckIncident).Methods("POST")
	api.HandleFunc("/incidents/{id}/resolve", s.handleResolveIncident).Methods("POST")
	api.HandleFunc("/auto-assign/toggle", s.handleToggleAutoAssign).Methods("POST")
	api.HandleFunc("/auto-assign/rules", s.handleUpdateRules).Methods("PUT")
	api.HandleFunc("/auto-assign/rules", s.handleGetRules).Methods("GET")

	s.mux.HandleFunc("/internal/driver/snapshots", s.handleDriverSnapshot).Methods("POST")
	s.mux.HandleFunc("/internal/driver/nearby", s.handleDriverNearby).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type locationDTO struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address"`
}

func (l locationDTO) toModel() models.Location {
	return models.Location{Coord: models.Coord{Lat: l.Lat, Lon: l.Lon}, Address: l.Address}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pickup          locationDTO `json:"pickup"`
		Dropoff         locationDTO `json:"dropoff"`
		ScheduledAt     time.Time   `json:"scheduled_at"`
		RequiredVehicle string      `json:"required_vehicle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	vc, ok := models.ParseVehicleClass(req.RequiredVehicle)
	if !ok {
		s.writeError(w, r, badRequestf("unknown required_vehicle %q", req.RequiredVehicle))
		return
	}
	job, err := s.Controller.CreateJob(req.Pickup.toModel(), req.Dropoff.toModel(), req.ScheduledAt, vc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Controller.Job(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // reason is optional
	}
	job, err := s.Controller.CancelJob(mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID      string `json:"job_id"`
		DriverID   string `json:"driver_id"`
		AutoAssign bool   `json:"auto_assign"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if req.JobID == "" {
		s.writeError(w, r, badRequestf("job_id required"))
		return
	}

	var (
		a   models.Assignment
		err error
	)
	if req.AutoAssign {
		a, err = s.Controller.AutoAssign(req.JobID)
	} else {
		a, err = s.Controller.ManualAssign(req.JobID, req.DriverID, req.Reason)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.Controller.Assignment(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleProgressEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step string `json:"step"`
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	a, err := s.Controller.RecordProgressEvent(mux.Vars(r)["id"], models.ProgressStep(req.Step), req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleReportIncident(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category     string `json:"category"`
		Severity     string `json:"severity"`
		Description  string `json:"description"`
		DriverID     string `json:"driver_id"`
		AssignmentID string `json:"assignment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	inc, err := s.Incidents.Report(models.IncidentCategory(req.Category), models.IncidentSeverity(req.Severity), req.Description, req.DriverID, req.AssignmentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inc)
}

func (s *Server) handleAckIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.Incidents.Acknowledge(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	inc, err := s.Incidents.Resolve(mux.Vars(r)["id"], req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleToggleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	enabled := s.Controller.ToggleAutoAssign(req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleUpdateRules(w http.ResponseWriter, r *http.Request) {
	var rules models.AutoAssignRules
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	updated, err := s.Controller.UpdateRules(rules)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Controller.Rules())
}

// handleDriverSnapshot ingests a driver directory snapshot into the local
// registry and republishes it to the snapshot topic when Kafka is wired.
func (s *Server) handleDriverSnapshot(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if d.ID == "" {
		s.writeError(w, r, badRequestf("driver id required"))
		return
	}
	s.Registry.Upsert(d)
	if s.Producer != nil {
		if err := s.Producer.PublishSnapshot(d); err != nil {
			s.logger.Warn("snapshot publish failed", "driver_id", d.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverNearby(w http.ResponseWriter, r *http.Request) {
	if s.Positions == nil {
		http.Error(w, "position index not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	radius, err3 := strconv.ParseFloat(q.Get("radius"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		s.writeError(w, r, badRequestf("lat, lon, radius required"))
		return
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	drivers, err := s.Positions.Nearby(r.Context(), models.Coord{Lat: lat, Lon: lon}, radius, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, drivers)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(id, conn)

	// inbound frames are discarded; the loop exists to notice the peer
	// going away and unregister the session
	go func() {
		defer s.WSReg.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the dispatch error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is a 500 with no internal detail exposed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, dispatch.ErrValidation), errors.Is(err, incident.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrJobNotFound), errors.Is(err, dispatch.ErrAssignmentNotFound),
		errors.Is(err, dispatch.ErrUnknownCandidate), errors.Is(err, incident.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrAssignmentConflict), errors.Is(err, dispatch.ErrInvalidStatusTransition),
		errors.Is(err, dispatch.ErrAutoAssignDisabled):
		status = http.StatusConflict
	case errors.Is(err, dispatch.ErrEligibilityViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, dispatch.ErrNoEligibleDriver):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
