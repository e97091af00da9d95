package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/guardrail/internal/lock"
	"github.com/noah-isme/guardrail/internal/obs"
)

// DeliveryWorker executes queued webhook deliveries with distributed locking
// so concurrent workers never double-send the same delivery.
type DeliveryWorker struct {
	Store     Store
	Deliverer *Deliverer
	Locker    lock.Locker
	LockTTL   time.Duration
}

// Handle processes a single delivery task. Non-2xx responses and transport
// errors are returned so asynq retries with backoff.
func (w DeliveryWorker) Handle(ctx context.Context, task *asynq.Task) error {
	if w.Deliverer == nil || w.Store == nil {
		return errors.New("notify: delivery worker not configured")
	}
	var payload DeliveryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("notify: decode delivery payload: %w", err)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := fmt.Sprintf("lock:delivery:%d:%d", payload.EndpointID, payload.Event.ID)
	return w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		if obs.WebhookDispatchAttempts != nil {
			obs.WebhookDispatchAttempts.Inc()
		}
		endpoint, err := w.Store.GetEndpoint(ctx, payload.EndpointID)
		if err != nil {
			return fmt.Errorf("notify: load endpoint %d: %w", payload.EndpointID, err)
		}
		if !endpoint.Active {
			return nil
		}
		start := time.Now()
		status, _, err := w.Deliverer.Deliver(ctx, endpoint, payload.Event)
		result := "delivered"
		if err != nil || status < 200 || status >= 300 {
			result = "failed"
		}
		if obs.WebhookDeliveriesTotal != nil {
			obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
		}
		if obs.WebhookAttemptLatency != nil {
			obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
		}
		if err != nil {
			return fmt.Errorf("notify: deliver to endpoint %d: %w", payload.EndpointID, err)
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("notify: endpoint %d responded with status %d", payload.EndpointID, status)
		}
		return nil
	})
}
