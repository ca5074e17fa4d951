package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain/webhook"
	"zapgate/internal/ports"
	"zapgate/platform/logger"
)

const deliveryTimeout = 30 * time.Second

// Dispatcher fans domain events out to an instance's webhook subscribers.
// Delivery is best effort: each subscriber gets its own goroutine, failures
// are logged and swallowed, and Dispatch itself never blocks on the network.
type Dispatcher struct {
	webhooks   ports.WebhookRepository
	logger     *logger.Logger
	httpClient *http.Client

	// wg tracks in-flight deliveries so shutdown can drain them.
	wg sync.WaitGroup
}

// Payload is the body POSTed to every subscriber.
type Payload struct {
	InstanceID string                 `json:"instanceId"`
	Event      string                 `json:"event"`
	Data       map[string]interface{} `json:"data"`
}

type deliveryResult struct {
	statusCode int
	latency    time.Duration
	err        error
}

func NewDispatcher(webhooks ports.WebhookRepository, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		webhooks: webhooks,
		logger:   log.WithModule("webhook"),
		httpClient: &http.Client{
			Timeout: deliveryTimeout,
		},
	}
}

var _ ports.EventDispatcher = (*Dispatcher)(nil)

// Dispatch loads the instance's subscribers and delivers the event to every
// enabled one whose event filter contains the tag.
func (d *Dispatcher) Dispatch(ctx context.Context, instanceID, event string, data map[string]interface{}) {
	id, err := uuid.Parse(instanceID)
	if err != nil {
		d.logger.ErrorWithFields("Invalid instance id on dispatch", map[string]interface{}{
			"instance_id": instanceID,
			"event":       event,
		})
		return
	}

	subscribers, err := d.webhooks.ListByInstance(ctx, id)
	if err != nil {
		d.logger.ErrorWithFields("Failed to load webhooks for dispatch", map[string]interface{}{
			"instance_id": instanceID,
			"event":       event,
			"error":       err.Error(),
		})
		return
	}

	payload := &Payload{
		InstanceID: instanceID,
		Event:      event,
		Data:       data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.ErrorWithFields("Failed to marshal webhook payload", map[string]interface{}{
			"instance_id": instanceID,
			"event":       event,
			"error":       err.Error(),
		})
		return
	}

	delivered := 0
	for _, sub := range subscribers {
		if !sub.Enabled || !sub.HasEvent(event) {
			continue
		}
		delivered++

		d.wg.Add(1)
		go func(sub *webhook.Webhook) {
			defer d.wg.Done()
			d.deliver(sub, payload, body)
		}(sub)
	}

	d.logger.DebugWithFields("Dispatched event", map[string]interface{}{
		"instance_id": instanceID,
		"event":       event,
		"subscribers": delivered,
	})
}

// Wait blocks until every in-flight delivery finishes. Called at shutdown
// after the last Dispatch.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(sub *webhook.Webhook, payload *Payload, body []byte) {
	result := d.post(sub.URL, payload, body)

	if result.err != nil {
		d.logger.ErrorWithFields("Webhook delivery failed", map[string]interface{}{
			"webhook_id":  sub.ID.String(),
			"instance_id": payload.InstanceID,
			"event":       payload.Event,
			"url":         sub.URL,
			"error":       result.err.Error(),
		})
		return
	}
	if result.statusCode < 200 || result.statusCode >= 300 {
		d.logger.WarnWithFields("Webhook rejected delivery", map[string]interface{}{
			"webhook_id":  sub.ID.String(),
			"instance_id": payload.InstanceID,
			"event":       payload.Event,
			"status_code": result.statusCode,
			"latency":     result.latency.String(),
		})
		return
	}

	d.logger.DebugWithFields("Webhook delivered", map[string]interface{}{
		"webhook_id":  sub.ID.String(),
		"event":       payload.Event,
		"status_code": result.statusCode,
		"latency":     result.latency.String(),
	})
}

func (d *Dispatcher) post(endpoint string, payload *Payload, body []byte) *deliveryResult {
	start := time.Now()

	// Deliveries outlive the triggering request; they get their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	target, err := buildTargetURL(endpoint, payload.InstanceID, payload.Event)
	if err != nil {
		return &deliveryResult{err: err, latency: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &deliveryResult{err: err, latency: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "zapgate-webhook/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &deliveryResult{err: err, latency: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return &deliveryResult{
		statusCode: resp.StatusCode,
		latency:    time.Since(start),
	}
}

// buildTargetURL appends the instanceId and event query parameters so
// receivers can route without parsing the body.
func buildTargetURL(endpoint, instanceID, event string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	q := u.Query()
	q.Set("instanceId", instanceID)
	q.Set("event", event)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
