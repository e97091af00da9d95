package engine

import (
	"encoding/json"
	"fmt"
)

// Phase represents the protective state a breaker is currently in.
type Phase int

const (
	// PhaseClosed passes traffic through and tracks failures.
	PhaseClosed Phase = iota
	// PhaseOpen short-circuits all traffic until the recovery timeout elapses.
	PhaseOpen
	// PhaseHalfOpen admits a single probe call to decide recovery.
	PhaseHalfOpen
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseOpen:
		return "open"
	case PhaseHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the phase as its wire string.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the wire string back into a Phase.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParsePhase(s)
	if !ok {
		return fmt.Errorf("unknown phase %q", s)
	}
	*p = parsed
	return nil
}

// ParsePhase converts the wire representation back into a Phase.
func ParsePhase(s string) (Phase, bool) {
	switch s {
	case "closed":
		return PhaseClosed, true
	case "open":
		return PhaseOpen, true
	case "half_open":
		return PhaseHalfOpen, true
	default:
		return PhaseClosed, false
	}
}

// Outcome classifies the result of a protected call.
type Outcome int

const (
	// OutcomeSuccess marks a call that completed normally.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure marks a call that returned an error.
	OutcomeFailure
	// OutcomeTimeout marks a call that exceeded the request timeout.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
