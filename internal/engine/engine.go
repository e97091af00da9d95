package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var engineNopLogger = zerolog.Nop()

// Config wires the engine to its collaborators. Repo is required; everything
// else is optional.
type Config struct {
	Repo      Repository
	Publisher Publisher
	Observer  Observer
	Logger    *zerolog.Logger
	// Now overrides the clock, primarily for tests.
	Now func() time.Time
	// ResetCooldown is the minimum interval between administrative resets on
	// the same breaker. Zero disables the internal guard.
	ResetCooldown time.Duration
}

// Engine owns the live state machine for every known breaker. Each breaker is
// an independently lockable unit; no lock spans more than one breaker and no
// I/O happens inside a breaker's critical section.
type Engine struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	repo      Repository
	publisher Publisher
	observer  Observer
	logger    *zerolog.Logger
	now       func() time.Time
	cooldown  time.Duration
	// silent suppresses prometheus reporting; detached harness copies set it
	// so synthetic runs never bleed into live collectors.
	silent bool
}

// breaker is the in-memory unit of state. All phase-affecting reads and writes
// happen under mu in a single read-modify-write critical section.
type breaker struct {
	mu            sync.Mutex
	def           Definition
	phase         Phase
	counters      Counters
	probeInFlight bool
	revision      int64
	lastResetAt   time.Time
	lastRotatedAt time.Time
	createdAt     time.Time
	updatedAt     time.Time
}

// transition captures a phase change decided inside a critical section so the
// side effects (events, metrics, logs) can run after the lock is released.
type transition struct {
	from, to Phase
	reason   string
	revision int64
	service  string
	notify   bool
}

// New constructs an engine. Call Hydrate afterwards to load stored definitions.
func New(cfg Config) (*Engine, error) {
	if cfg.Repo == nil {
		return nil, errors.New("engine: repository is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &engineNopLogger
	}
	return &Engine{
		breakers:  make(map[string]*breaker),
		repo:      cfg.Repo,
		publisher: cfg.Publisher,
		observer:  cfg.Observer,
		logger:    logger,
		now:       now,
		cooldown:  cfg.ResetCooldown,
	}, nil
}

// Hydrate loads every stored definition into the live map. Breakers always
// start closed: live phase and counters are process-local and never durable.
func (e *Engine) Hydrate(ctx context.Context) (int, error) {
	records, err := e.repo.List(ctx)
	if err != nil {
		return 0, storageErr(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := 0
	for _, rec := range records {
		if _, exists := e.breakers[rec.Name]; exists {
			continue
		}
		e.breakers[rec.Name] = breakerFromRecord(rec)
		loaded++
	}
	for name, b := range e.breakers {
		reportPhase(name, b.phase)
	}
	return loaded, nil
}

func breakerFromRecord(rec Record) *breaker {
	return &breaker{
		def:           rec.Definition,
		phase:         PhaseClosed,
		revision:      rec.Revision,
		lastResetAt:   rec.LastResetAt,
		lastRotatedAt: rec.LastRotatedAt,
		createdAt:     rec.CreatedAt,
		updatedAt:     rec.UpdatedAt,
	}
}

// RecordOutcome applies a call outcome to the named breaker and evaluates the
// transition rules for its current phase. Counter mutation and the phase check
// form one atomic critical section per breaker, so concurrent outcomes never
// double-count a transition.
func (e *Engine) RecordOutcome(ctx context.Context, name string, outcome Outcome, responseTime time.Duration) error {
	b, err := e.lookup(name)
	if err != nil {
		return err
	}
	now := e.now()

	b.mu.Lock()
	if !b.def.Flags.Enabled {
		b.mu.Unlock()
		return nil
	}
	var tr *transition
	switch outcome {
	case OutcomeSuccess:
		b.counters.SuccessCount++
		b.counters.LastSuccessTime = now
		switch b.phase {
		case PhaseClosed:
			b.counters.ConsecutiveFailures = 0
		case PhaseHalfOpen:
			// Probe succeeded: fully recover and clear failure history.
			tr = b.transitionLocked(PhaseClosed, "probe succeeded", now)
			b.counters.ConsecutiveFailures = 0
			b.counters.FailureCount = 0
			b.counters.Timeouts = 0
			b.probeInFlight = false
		}
	case OutcomeFailure, OutcomeTimeout:
		b.counters.FailureCount++
		if outcome == OutcomeTimeout {
			b.counters.Timeouts++
		}
		b.counters.LastFailureTime = now
		switch b.phase {
		case PhaseClosed:
			b.counters.ConsecutiveFailures++
			if b.counters.ConsecutiveFailures >= int64(b.def.FailureThreshold) {
				tr = b.transitionLocked(PhaseOpen, "failure threshold reached", now)
			}
		case PhaseHalfOpen:
			// Probe failed: back to open, restart the recovery clock.
			tr = b.transitionLocked(PhaseOpen, "probe failed", now)
			b.probeInFlight = false
		}
		// While open, outcomes from calls admitted earlier are counted but
		// trigger no transition.
	}
	b.mu.Unlock()

	e.afterOutcome(ctx, name, outcome, responseTime, tr)
	return nil
}

// CanAdmit decides whether a caller's request may reach the protected
// dependency. In open phase the breaker lazily becomes half-open once the
// recovery timeout has elapsed, atomically claiming the single probe slot for
// the admitted caller. Repeated calls without an intervening outcome never
// claim a second slot.
func (e *Engine) CanAdmit(ctx context.Context, name string) (bool, error) {
	b, err := e.lookup(name)
	if err != nil {
		return false, err
	}
	now := e.now()

	b.mu.Lock()
	if !b.def.Flags.Enabled {
		b.mu.Unlock()
		return true, nil
	}
	var tr *transition
	admit := false
	switch b.phase {
	case PhaseClosed:
		admit = true
	case PhaseOpen:
		if b.def.Flags.AutomaticRecovery && now.Sub(b.counters.LastFailureTime) >= b.def.RecoveryTimeout {
			tr = b.transitionLocked(PhaseHalfOpen, "recovery timeout elapsed", now)
			b.probeInFlight = true
			admit = true
		}
	case PhaseHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			admit = true
		}
	}
	b.mu.Unlock()

	if !e.silent {
		reportAdmission(name, admit)
	}
	if tr != nil {
		e.publishTransition(ctx, name, tr)
	}
	return admit, nil
}

// ReleaseProbe abandons a claimed probe slot without recording an outcome,
// for callers that were admitted but never reached the dependency.
func (e *Engine) ReleaseProbe(ctx context.Context, name string) error {
	b, err := e.lookup(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.phase == PhaseHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
	return nil
}

// Get returns a point-in-time snapshot of the named breaker.
func (e *Engine) Get(ctx context.Context, name string) (Snapshot, error) {
	b, err := e.lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(), nil
}

// Count reports how many breakers the engine currently holds.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.breakers)
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Service string
	Phase   *Phase
}

// List returns snapshots of all known breakers, optionally filtered, ordered
// by name.
func (e *Engine) List(ctx context.Context, filter ListFilter) []Snapshot {
	e.mu.RLock()
	all := make([]*breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		all = append(all, b)
	}
	e.mu.RUnlock()

	service := strings.TrimSpace(filter.Service)
	out := make([]Snapshot, 0, len(all))
	for _, b := range all {
		b.mu.Lock()
		snap := b.snapshotLocked()
		b.mu.Unlock()
		if service != "" && snap.Service != service {
			continue
		}
		if filter.Phase != nil && snap.Phase != *filter.Phase {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Detached returns a standalone engine seeded with a copy of the named
// breaker, wired to nothing. Outcomes recorded against the copy never touch
// the live breaker; the test harness uses this for isolated synthetic runs.
func (e *Engine) Detached(name string) (*Engine, error) {
	b, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	clone := &breaker{
		def:           b.def,
		phase:         b.phase,
		counters:      b.counters,
		probeInFlight: b.probeInFlight,
		revision:      b.revision,
		lastResetAt:   b.lastResetAt,
		lastRotatedAt: b.lastRotatedAt,
		createdAt:     b.createdAt,
		updatedAt:     b.updatedAt,
	}
	b.mu.Unlock()

	detached := &Engine{
		breakers: map[string]*breaker{name: clone},
		repo:     nopRepository{},
		logger:   &engineNopLogger,
		now:      e.now,
		silent:   true,
	}
	return detached, nil
}

// lookup fetches the live breaker for name.
func (e *Engine) lookup(name string) (*breaker, error) {
	e.mu.RLock()
	b, ok := e.breakers[name]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// transitionLocked flips the phase and bumps the revision. Callers hold b.mu.
func (b *breaker) transitionLocked(to Phase, reason string, now time.Time) *transition {
	from := b.phase
	if from == to {
		return nil
	}
	b.phase = to
	b.revision++
	b.updatedAt = now
	if to == PhaseOpen {
		b.counters.LastFailureTime = now
	}
	return &transition{
		from:     from,
		to:       to,
		reason:   reason,
		revision: b.revision,
		service:  b.def.Service,
		notify:   b.def.Flags.NotificationsEnabled,
	}
}

func (b *breaker) snapshotLocked() Snapshot {
	return Snapshot{
		Definition:    b.def,
		Phase:         b.phase,
		Counters:      b.counters,
		Revision:      b.revision,
		ProbeInFlight: b.probeInFlight,
		LastResetAt:   b.lastResetAt,
		LastRotatedAt: b.lastRotatedAt,
		CreatedAt:     b.createdAt,
		UpdatedAt:     b.updatedAt,
	}
}

func (b *breaker) recordLocked() Record {
	return Record{
		Definition:    b.def,
		Revision:      b.revision,
		LastResetAt:   b.lastResetAt,
		LastRotatedAt: b.lastRotatedAt,
		CreatedAt:     b.createdAt,
		UpdatedAt:     b.updatedAt,
	}
}

// afterOutcome runs the side effects of a recorded outcome outside the lock.
func (e *Engine) afterOutcome(ctx context.Context, name string, outcome Outcome, responseTime time.Duration, tr *transition) {
	if !e.silent {
		reportOutcome(name, outcome)
	}
	if e.observer != nil {
		e.observer.Observe(name, outcome, responseTime)
	}
	if tr != nil {
		e.publishTransition(ctx, name, tr)
	}
}

// publishTransition emits a phase-change event and updates transition metrics.
func (e *Engine) publishTransition(ctx context.Context, name string, tr *transition) {
	if !e.silent {
		reportTransition(name, tr.from, tr.to)
	}
	e.logger.Info().
		Str("breaker", name).
		Str("from_phase", tr.from.String()).
		Str("to_phase", tr.to.String()).
		Str("reason", tr.reason).
		Int64("revision", tr.revision).
		Msg("breaker_transition")
	if e.publisher == nil || !tr.notify {
		return
	}
	e.publisher.Publish(ctx, Event{
		Kind:       KindPhaseChange,
		Breaker:    name,
		Service:    tr.service,
		FromPhase:  tr.from,
		ToPhase:    tr.to,
		Reason:     tr.reason,
		Revision:   tr.revision,
		OccurredAt: e.now(),
	})
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorageUnavailable, err)
}

// nopRepository backs detached engines used by the synthetic test harness.
type nopRepository struct{}

func (nopRepository) Insert(context.Context, Record) error        { return nil }
func (nopRepository) Upsert(context.Context, Record) error        { return nil }
func (nopRepository) Load(context.Context, string) (Record, error) { return Record{}, ErrNotFound }
func (nopRepository) List(context.Context) ([]Record, error)      { return nil, nil }
func (nopRepository) Delete(context.Context, string) error        { return nil }
