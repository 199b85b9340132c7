package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers an assignment offer to a driver. Delivery is best
// effort: the dispatch decision is already committed when this runs.
type Notifier interface {
	Notify(driverID string, offer Offer) error
}

// PushNotifier tries the driver's live websocket session first and falls
// back to POSTing the offer to the driver-app push gateway.
type PushNotifier struct {
	WS       *WSRegistry
	Endpoint string
	Client   *http.Client
}

func NewPushNotifier(ws *WSRegistry, endpoint string) *PushNotifier {
	return &PushNotifier{WS: ws, Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) Notify(driverID string, offer Offer) error {
	if p.WS != nil {
		if err := p.WS.Notify(driverID, offer); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	b, _ := json.Marshal(map[string]interface{}{"driver_id": driverID, "offer": offer})
	resp, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %s", resp.Status)
	}
	return nil
}
