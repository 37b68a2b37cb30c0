package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/observability"
)

// PushDispatcher tries the device websocket first. Terminal events for a
// device that is not connected are posted to Endpoint so the collector can
// be told their claim ended while the app was in the background.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Publish(ctx context.Context, e models.Event) error {
	if p.WS != nil {
		err := p.WS.Send(ctx, e.SessionID, e)
		if err == nil {
			observability.EventsPublished.WithLabelValues("ws", "ok").Inc()
			return nil
		}
		if !errors.Is(err, ErrNoSession) {
			observability.EventsPublished.WithLabelValues("ws", "error").Inc()
			return err
		}
	}
	if p.Endpoint == "" || !e.Terminal() {
		return nil
	}
	b, err := json.Marshal(map[string]any{"session_id": e.SessionID, "collector_id": e.CollectorID, "event": e})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		observability.EventsPublished.WithLabelValues("push", "error").Inc()
		return fmt.Errorf("push %s: %w", e.Type, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.EventsPublished.WithLabelValues("push", "error").Inc()
		return fmt.Errorf("push %s: http status %d", e.Type, resp.StatusCode)
	}
	observability.EventsPublished.WithLabelValues("push", "ok").Inc()
	return nil
}
