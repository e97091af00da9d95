package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/guardrail/internal/common"
	"github.com/noah-isme/guardrail/internal/events"
)

func TestEmailNotifierSendsOnOpen(t *testing.T) {
	sender := &common.CaptureSender{}
	n := EmailNotifier{Mail: sender, Enabled: true, Recipient: "oncall@example.com"}

	err := n.Notify(context.Background(), events.StoredEvent{
		Topic:      events.TopicBreakerOpened,
		Breaker:    "payments-db",
		Payload:    []byte(`{"service":"payments","from_phase":"closed","to_phase":"open","reason":"failure threshold reached"}`),
		OccurredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, sender.Outbox, 1)
	mail := sender.Outbox[0]
	require.Equal(t, "oncall@example.com", mail.To)
	require.Equal(t, "[guardrail] breaker payments-db opened", mail.Subject)
	require.Contains(t, mail.HTML, "Service: payments")
	require.Contains(t, mail.HTML, "closed -> open")
}

func TestEmailNotifierHonorsToggles(t *testing.T) {
	sender := &common.CaptureSender{}
	n := EmailNotifier{
		Mail:         sender,
		Enabled:      true,
		Recipient:    "oncall@example.com",
		TopicToggles: map[string]bool{events.TopicBreakerClosed: false},
	}

	require.NoError(t, n.Notify(context.Background(), events.StoredEvent{
		Topic:   events.TopicBreakerClosed,
		Breaker: "payments-db",
	}))
	require.Empty(t, sender.Outbox)
}

func TestEmailNotifierDisabled(t *testing.T) {
	sender := &common.CaptureSender{}
	n := EmailNotifier{Mail: sender, Recipient: "oncall@example.com"}
	require.NoError(t, n.Notify(context.Background(), events.StoredEvent{Topic: events.TopicBreakerOpened}))
	require.Empty(t, sender.Outbox)
}
