package events

// Topic constants for domain events emitted by the platform.
const (
	TopicBreakerCreated  = "breaker.created"
	TopicBreakerUpdated  = "breaker.updated"
	TopicBreakerDeleted  = "breaker.deleted"
	TopicBreakerReset    = "breaker.reset"
	TopicBreakerOpened   = "breaker.opened"
	TopicBreakerHalfOpen = "breaker.half_open"
	TopicBreakerClosed   = "breaker.closed"
	TopicBreakerTested   = "breaker.tested"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicBreakerCreated,
		TopicBreakerUpdated,
		TopicBreakerDeleted,
		TopicBreakerReset,
		TopicBreakerOpened,
		TopicBreakerHalfOpen,
		TopicBreakerClosed,
		TopicBreakerTested,
	}
}
