package engine

import (
	"context"
	"errors"
	"strings"
)

// Administrative operations. These compete with live traffic for the same
// per-breaker lock, so every critical section below is a short in-memory
// read-modify-write; repository calls always happen after the lock is
// released.

// Create registers a new breaker. The breaker starts closed and is persisted
// before it becomes visible to callers, so a storage failure leaves no
// partial state behind.
func (e *Engine) Create(ctx context.Context, def Definition) (Snapshot, error) {
	def.Name = strings.TrimSpace(def.Name)
	def.Service = strings.TrimSpace(def.Service)
	if err := def.Validate(); err != nil {
		return Snapshot{}, err
	}
	now := e.now()
	b := &breaker{
		def:       def,
		phase:     PhaseClosed,
		revision:  1,
		createdAt: now,
		updatedAt: now,
	}

	e.mu.Lock()
	if _, exists := e.breakers[def.Name]; exists {
		e.mu.Unlock()
		return Snapshot{}, ErrDuplicateName
	}
	e.mu.Unlock()

	if err := e.repo.Insert(ctx, b.recordLocked()); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return Snapshot{}, ErrDuplicateName
		}
		return Snapshot{}, storageErr(err)
	}

	e.mu.Lock()
	if _, exists := e.breakers[def.Name]; exists {
		// Lost an in-process race after the insert; the durable row already
		// belongs to the winner.
		e.mu.Unlock()
		return Snapshot{}, ErrDuplicateName
	}
	e.breakers[def.Name] = b
	e.mu.Unlock()

	reportPhase(def.Name, PhaseClosed)
	e.publishAdmin(ctx, KindCreated, b, "breaker created")
	return e.snapshotOf(b), nil
}

// Update applies a partial configuration change. Validation happens strictly
// before any mutation; a patch carrying a phase is rejected because the phase
// is derived, never assigned.
func (e *Engine) Update(ctx context.Context, name string, patch Patch) (Snapshot, error) {
	if err := patch.validate(); err != nil {
		return Snapshot{}, err
	}
	b, err := e.lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	now := e.now()

	b.mu.Lock()
	if patch.ExpectedRevision != 0 && b.revision != patch.ExpectedRevision {
		b.mu.Unlock()
		return Snapshot{}, ErrConcurrentModification
	}
	if patch.Service != nil {
		b.def.Service = strings.TrimSpace(*patch.Service)
	}
	if patch.FailureThreshold != nil {
		b.def.FailureThreshold = *patch.FailureThreshold
	}
	if patch.RecoveryTimeout != nil {
		b.def.RecoveryTimeout = *patch.RecoveryTimeout
	}
	if patch.RequestTimeout != nil {
		b.def.RequestTimeout = *patch.RequestTimeout
	}
	if patch.Enabled != nil {
		b.def.Flags.Enabled = *patch.Enabled
	}
	if patch.AutomaticRecovery != nil {
		b.def.Flags.AutomaticRecovery = *patch.AutomaticRecovery
	}
	if patch.NotificationsEnabled != nil {
		b.def.Flags.NotificationsEnabled = *patch.NotificationsEnabled
	}
	b.revision++
	b.updatedAt = now
	rec := b.recordLocked()
	b.mu.Unlock()

	if err := e.repo.Upsert(ctx, rec); err != nil {
		// The in-memory configuration stays authoritative; surface the
		// degradation so the operator can retry persistence.
		return e.snapshotOf(b), storageErr(err)
	}
	e.publishAdmin(ctx, KindUpdated, b, "configuration updated")
	return e.snapshotOf(b), nil
}

// Delete removes an idle breaker. A breaker in any phase other than closed,
// or with a probe in flight, is considered active and cannot be removed
// mid-incident.
func (e *Engine) Delete(ctx context.Context, name string) error {
	e.mu.Lock()
	b, ok := e.breakers[name]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	b.mu.Lock()
	if b.phase != PhaseClosed || b.probeInFlight {
		b.mu.Unlock()
		e.mu.Unlock()
		return ErrBreakerActive
	}
	delete(e.breakers, name)
	b.mu.Unlock()
	e.mu.Unlock()

	if err := e.repo.Delete(ctx, name); err != nil {
		return storageErr(err)
	}
	forgetBreaker(name)
	e.publishAdmin(ctx, KindDeleted, b, "breaker deleted")
	return nil
}

// Reset forces the breaker back to closed and zeroes its failure counters,
// regardless of the current phase. Concurrent resets are serialized by an
// optimistic revision check: the loser receives ErrConcurrentModification
// instead of silently clobbering in-flight state. An engine-level cooldown
// guard rejects resets attempted before the minimum interval elapses.
func (e *Engine) Reset(ctx context.Context, name string, expectedRevision int64) (Snapshot, error) {
	b, err := e.lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	now := e.now()

	b.mu.Lock()
	if expectedRevision != 0 && b.revision != expectedRevision {
		b.mu.Unlock()
		return Snapshot{}, ErrConcurrentModification
	}
	if e.cooldown > 0 && !b.lastResetAt.IsZero() && now.Sub(b.lastResetAt) < e.cooldown {
		b.mu.Unlock()
		return Snapshot{}, ErrCooldownActive
	}
	from := b.phase
	b.phase = PhaseClosed
	b.counters.ConsecutiveFailures = 0
	b.counters.FailureCount = 0
	b.counters.Timeouts = 0
	b.probeInFlight = false
	b.lastResetAt = now
	b.revision++
	b.updatedAt = now
	rec := b.recordLocked()
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if from != PhaseClosed {
		reportTransition(name, from, PhaseClosed)
	}
	reportPhase(name, PhaseClosed)
	if err := e.repo.Upsert(ctx, rec); err != nil {
		return snap, storageErr(err)
	}
	if e.publisher != nil {
		e.publisher.Publish(ctx, Event{
			Kind:       KindReset,
			Breaker:    snap.Name,
			Service:    snap.Service,
			FromPhase:  from,
			ToPhase:    PhaseClosed,
			Reason:     "manual reset",
			Revision:   snap.Revision,
			OccurredAt: now,
		})
	}
	return snap, nil
}

// publishAdmin emits a lifecycle event. Unlike phase changes these ignore the
// notification flag: administrative actions always leave a trail.
func (e *Engine) publishAdmin(ctx context.Context, kind EventKind, b *breaker, reason string) {
	if e.publisher == nil {
		return
	}
	b.mu.Lock()
	ev := Event{
		Kind:       kind,
		Breaker:    b.def.Name,
		Service:    b.def.Service,
		FromPhase:  b.phase,
		ToPhase:    b.phase,
		Reason:     reason,
		Revision:   b.revision,
		OccurredAt: e.now(),
	}
	b.mu.Unlock()
	e.publisher.Publish(ctx, ev)
}

func (e *Engine) snapshotOf(b *breaker) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}
