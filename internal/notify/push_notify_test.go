package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPushFallbackDeliversOffer(t *testing.T) {
	var got struct {
		DriverID string `json:"driver_id"`
		Offer    Offer  `json:"offer"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode push payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewPushNotifier(nil, srv.URL)
	if err := p.Notify("d1", Offer{AssignmentID: "a1", JobID: "j1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.DriverID != "d1" || got.Offer.AssignmentID != "a1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPushFallbackRejectsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPushNotifier(nil, srv.URL)
	if err := p.Notify("d1", Offer{AssignmentID: "a1"}); err == nil {
		t.Fatalf("expected error for 5xx gateway response")
	}
}

func TestPushFallbackWithoutEndpoint(t *testing.T) {
	p := NewPushNotifier(nil, "")
	if err := p.Notify("d1", Offer{}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
