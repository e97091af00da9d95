package engine

import "errors"

var (
	// ErrNotFound indicates no breaker exists with the requested name.
	ErrNotFound = errors.New("engine: breaker not found")
	// ErrDuplicateName indicates a breaker with the requested name already exists.
	ErrDuplicateName = errors.New("engine: breaker name already exists")
	// ErrInvalidConfiguration indicates a definition or patch with out-of-range values.
	ErrInvalidConfiguration = errors.New("engine: invalid breaker configuration")
	// ErrPhaseImmutable indicates an attempt to assign the phase through configuration.
	// The phase is derived from call outcomes and the reset operation only.
	ErrPhaseImmutable = errors.New("engine: phase cannot be set directly")
	// ErrBreakerActive indicates a delete on a breaker that is not idle.
	ErrBreakerActive = errors.New("engine: breaker is active")
	// ErrConcurrentModification indicates the caller lost a revision race.
	ErrConcurrentModification = errors.New("engine: breaker modified concurrently")
	// ErrCooldownActive indicates a reset attempted before the minimum interval elapsed.
	ErrCooldownActive = errors.New("engine: reset cooldown active")
	// ErrStorageUnavailable wraps repository failures. The in-memory state machine
	// stays authoritative and keeps serving admission decisions while storage is
	// degraded.
	ErrStorageUnavailable = errors.New("engine: storage unavailable")
)
