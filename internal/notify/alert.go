package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/guardrail/internal/events"
)

var alertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_alerts_emitted_total",
	Help: "Alerts emitted for breaker events, labelled by topic.",
}, []string{"topic"})

func init() {
	prometheus.MustRegister(alertsEmitted)
}

// AlertNotifier surfaces breaker trips in the service log so operators see
// them without a webhook consumer. It implements events.Notifier.
type AlertNotifier struct {
	Logger *zerolog.Logger
}

// Notify logs opened transitions at warn level and recoveries at info.
func (n AlertNotifier) Notify(_ context.Context, event events.StoredEvent) error {
	if n.Logger == nil {
		return nil
	}
	switch event.Topic {
	case events.TopicBreakerOpened:
		alertsEmitted.WithLabelValues(event.Topic).Inc()
		n.Logger.Warn().
			Str("breaker", event.Breaker).
			Str("topic", event.Topic).
			RawJSON("payload", event.Payload).
			Msg("breaker opened")
	case events.TopicBreakerClosed, events.TopicBreakerReset:
		alertsEmitted.WithLabelValues(event.Topic).Inc()
		n.Logger.Info().
			Str("breaker", event.Breaker).
			Str("topic", event.Topic).
			Msg("breaker recovered")
	}
	return nil
}
