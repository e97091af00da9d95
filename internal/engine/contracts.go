package engine

import (
	"context"
	"time"
)

// Repository stores durable breaker definitions. Implementations must return
// errors that wrap ErrNotFound and ErrDuplicateName where applicable; any other
// failure is treated as storage degradation.
type Repository interface {
	// Insert persists a newly created breaker and fails on a duplicate name.
	Insert(ctx context.Context, rec Record) error
	// Upsert persists the current durable projection of an existing breaker.
	Upsert(ctx context.Context, rec Record) error
	// Load fetches a single definition by name.
	Load(ctx context.Context, name string) (Record, error)
	// List fetches every stored definition.
	List(ctx context.Context) ([]Record, error)
	// Delete removes a definition by name.
	Delete(ctx context.Context, name string) error
}

// EventKind classifies the structured change events the engine emits.
type EventKind int

const (
	// KindPhaseChange is emitted for every transition driven by call outcomes
	// or admission decisions.
	KindPhaseChange EventKind = iota
	// KindCreated is emitted when an administrator creates a breaker.
	KindCreated
	// KindUpdated is emitted when configuration changes.
	KindUpdated
	// KindDeleted is emitted when a breaker is removed.
	KindDeleted
	// KindReset is emitted when a breaker is forced back to closed.
	KindReset
	// KindTested is emitted when an operator runs synthetic calls through a
	// breaker.
	KindTested
)

func (k EventKind) String() string {
	switch k {
	case KindPhaseChange:
		return "phase_change"
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	case KindReset:
		return "reset"
	case KindTested:
		return "tested"
	default:
		return "unknown"
	}
}

// Event describes a single breaker change. Where events are written is a
// collaborator concern; the engine only emits them.
type Event struct {
	Kind       EventKind
	Breaker    string
	Service    string
	FromPhase  Phase
	ToPhase    Phase
	Reason     string
	Revision   int64
	OccurredAt time.Time
}

// Publisher receives change events. Publication happens outside breaker
// critical sections and must never block the state machine; implementations
// own their error handling.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Observer receives every recorded call outcome, typically to feed the
// metrics aggregator. Called outside the breaker critical section.
type Observer interface {
	Observe(name string, outcome Outcome, responseTime time.Duration)
}
