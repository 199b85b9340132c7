package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/fleet-dispatch/internal/models"
)

// Offer is the payload pushed to a driver session when an assignment is
// created or cancelled for them.
type Offer struct {
	AssignmentID string                  `json:"assignment_id"`
	JobID        string                  `json:"job_id"`
	Status       models.AssignmentStatus `json:"status"`
	Pickup       models.Location         `json:"pickup"`
	Dropoff      models.Location         `json:"dropoff"`
}

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds driver sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = &WSSession{conn: conn}
}

// Remove drops the driver's session if it still holds the given connection.
// A nil conn removes unconditionally; otherwise a reconnect registered in
// the meantime is left alone.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && (conn == nil || s.conn == conn) {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Notify(driverID string, offer Offer) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(offer); err != nil {
		if r.logger != nil {
			r.logger.Warn("ws send failed", "driver_id", driverID, "error", err)
		}
		// the connection is dead; drop it so the push fallback takes over
		r.Remove(driverID, s.conn)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
