package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/guardrail/internal/events"
)

// TaskTypeWebhookDelivery is the asynq task type for webhook deliveries.
const TaskTypeWebhookDelivery = "webhook:deliver"

// DeliveryPayload is the task payload carried through the queue.
type DeliveryPayload struct {
	EndpointID int64              `json:"endpoint_id"`
	Event      events.StoredEvent `json:"event"`
}

// WebhookNotifier fans out stored events to subscribed endpoints by enqueueing
// one delivery task per endpoint. It implements events.Notifier.
type WebhookNotifier struct {
	Store       Store
	Tasks       *asynq.Client
	MaxRetry    int
	RetainHours int
}

// Notify schedules deliveries for every active endpoint subscribed to the
// event's topic.
func (n WebhookNotifier) Notify(ctx context.Context, event events.StoredEvent) error {
	if n.Store == nil || n.Tasks == nil {
		return nil
	}
	if strings.TrimSpace(event.Topic) == "" {
		return nil
	}
	endpoints, err := n.Store.ListActiveEndpointsForTopic(ctx, event.Topic)
	if err != nil {
		return fmt.Errorf("notify: list endpoints: %w", err)
	}
	maxRetry := n.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 6
	}
	retain := time.Duration(n.RetainHours) * time.Hour
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	var joined error
	for _, ep := range endpoints {
		payload, err := json.Marshal(DeliveryPayload{EndpointID: ep.ID, Event: event})
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("notify: encode delivery for endpoint %d: %w", ep.ID, err))
			continue
		}
		task := asynq.NewTask(TaskTypeWebhookDelivery, payload)
		opts := []asynq.Option{
			asynq.MaxRetry(maxRetry),
			asynq.Retention(retain),
			asynq.TaskID(fmt.Sprintf("wh:%d:%d", ep.ID, event.ID)),
		}
		if _, err := n.Tasks.EnqueueContext(ctx, task, opts...); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("notify: enqueue delivery for endpoint %d: %w", ep.ID, err))
		}
	}
	return joined
}
