package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Flags groups the structural toggles carried by every breaker.
type Flags struct {
	// Enabled gates the breaker entirely. A disabled breaker admits every
	// caller and records nothing.
	Enabled bool `json:"enabled"`
	// AutomaticRecovery allows an open breaker to become probe-eligible once
	// the recovery timeout elapses. When false only an explicit reset recovers.
	AutomaticRecovery bool `json:"automatic_recovery"`
	// NotificationsEnabled gates phase-change event publication.
	NotificationsEnabled bool `json:"notifications_enabled"`
}

// Definition holds the durable configuration of a breaker. The name is
// immutable after creation; everything else is mutable through Update.
type Definition struct {
	Name             string        `json:"name"`
	Service          string        `json:"service"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	RequestTimeout   time.Duration `json:"request_timeout"`
	Flags            Flags         `json:"flags"`
}

// Validate checks numeric ranges and the name format before any state mutation.
func (d Definition) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfiguration)
	}
	if !validName(name) {
		return fmt.Errorf("%w: name %q contains invalid characters", ErrInvalidConfiguration, name)
	}
	if d.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfiguration)
	}
	if d.RecoveryTimeout < 0 {
		return fmt.Errorf("%w: recovery timeout must not be negative", ErrInvalidConfiguration)
	}
	if d.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

func validName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == '.' || c == ':' {
			continue
		}
		return false
	}
	return true
}

// Patch captures a partial configuration update. Nil fields are left untouched.
// Phase is accepted on the wire solely so that attempts to assign it can be
// rejected with ErrPhaseImmutable instead of being silently dropped.
type Patch struct {
	Service              *string
	FailureThreshold     *int
	RecoveryTimeout      *time.Duration
	RequestTimeout       *time.Duration
	Enabled              *bool
	AutomaticRecovery    *bool
	NotificationsEnabled *bool
	Phase                *string
	// ExpectedRevision enables optimistic concurrency control. Zero skips the check.
	ExpectedRevision int64
}

func (p Patch) validate() error {
	if p.Phase != nil {
		return ErrPhaseImmutable
	}
	if p.FailureThreshold != nil && *p.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfiguration)
	}
	if p.RecoveryTimeout != nil && *p.RecoveryTimeout < 0 {
		return fmt.Errorf("%w: recovery timeout must not be negative", ErrInvalidConfiguration)
	}
	if p.RequestTimeout != nil && *p.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

// Counters are the live, process-local call statistics of a breaker.
type Counters struct {
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	Timeouts            int64     `json:"timeouts"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	LastSuccessTime     time.Time `json:"last_success_time"`
}

// Snapshot is a point-in-time copy of a breaker safe to hand to callers.
type Snapshot struct {
	Definition
	Phase         Phase     `json:"phase"`
	Counters      Counters  `json:"counters"`
	Revision      int64     `json:"revision"`
	ProbeInFlight bool      `json:"probe_in_flight"`
	LastResetAt   time.Time `json:"last_reset_at"`
	LastRotatedAt time.Time `json:"last_rotated_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarshalJSON flattens the snapshot for the HTTP API with durations in
// milliseconds and the phase as its wire string.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name              string    `json:"name"`
		Service           string    `json:"service,omitempty"`
		FailureThreshold  int       `json:"failure_threshold"`
		RecoveryTimeoutMs int64     `json:"recovery_timeout_ms"`
		RequestTimeoutMs  int64     `json:"request_timeout_ms"`
		Flags             Flags     `json:"flags"`
		Phase             string    `json:"phase"`
		Counters          Counters  `json:"counters"`
		Revision          int64     `json:"revision"`
		ProbeInFlight     bool      `json:"probe_in_flight"`
		LastResetAt       time.Time `json:"last_reset_at"`
		LastRotatedAt     time.Time `json:"last_rotated_at"`
		CreatedAt         time.Time `json:"created_at"`
		UpdatedAt         time.Time `json:"updated_at"`
	}{
		Name:              s.Name,
		Service:           s.Service,
		FailureThreshold:  s.FailureThreshold,
		RecoveryTimeoutMs: s.RecoveryTimeout.Milliseconds(),
		RequestTimeoutMs:  s.RequestTimeout.Milliseconds(),
		Flags:             s.Flags,
		Phase:             s.Phase.String(),
		Counters:          s.Counters,
		Revision:          s.Revision,
		ProbeInFlight:     s.ProbeInFlight,
		LastResetAt:       s.LastResetAt,
		LastRotatedAt:     s.LastRotatedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	})
}

// Record is the durable projection of a breaker persisted by the repository.
// Live counters and phase are deliberately absent: they are process-local.
type Record struct {
	Definition
	Revision      int64
	LastResetAt   time.Time
	LastRotatedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
