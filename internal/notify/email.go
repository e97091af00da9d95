package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/guardrail/internal/common"
	"github.com/noah-isme/guardrail/internal/events"
)

// EmailNotifier sends operator emails for selected topics.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	Recipient    string
	TopicToggles map[string]bool
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.StoredEvent) error {
	if !n.Enabled || n.Mail == nil || n.Recipient == "" {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	subject := subjectFor(event.Topic, event.Breaker)
	body := bodyFor(event, payload)
	return n.Mail.Send(n.Recipient, subject, body)
}

func subjectFor(topic, breaker string) string {
	switch topic {
	case events.TopicBreakerOpened:
		return fmt.Sprintf("[guardrail] breaker %s opened", breaker)
	case events.TopicBreakerHalfOpen:
		return fmt.Sprintf("[guardrail] breaker %s probing recovery", breaker)
	case events.TopicBreakerClosed:
		return fmt.Sprintf("[guardrail] breaker %s recovered", breaker)
	case events.TopicBreakerReset:
		return fmt.Sprintf("[guardrail] breaker %s manually reset", breaker)
	default:
		return fmt.Sprintf("[guardrail] %s: %s", breaker, topic)
	}
}

func bodyFor(event events.StoredEvent, payload map[string]any) string {
	summary := fmt.Sprintf("Event %s occurred at %s.", event.Topic, event.OccurredAt.Format(time.RFC3339))
	if service, ok := payload["service"].(string); ok && service != "" {
		summary += fmt.Sprintf("\nService: %s", service)
	}
	if reason, ok := payload["reason"].(string); ok && reason != "" {
		summary += fmt.Sprintf("\nReason: %s", reason)
	}
	if from, ok := payload["from_phase"].(string); ok && from != "" {
		if to, okTo := payload["to_phase"].(string); okTo {
			summary += fmt.Sprintf("\nTransition: %s -> %s", from, to)
		}
	}
	return summary
}
