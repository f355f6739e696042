package domain

import (
	"errors"
	"fmt"
)

// TransportMode is how a single dispatch leg moves value.
type TransportMode string

const (
	// ModeDirect credits an account on the domain the funds already sit on.
	ModeDirect TransportMode = "DIRECT"
	// ModeFast uses the low-latency transport for small cross-domain legs.
	ModeFast TransportMode = "FAST"
	// ModeNative uses the native settlement-asset transport.
	ModeNative TransportMode = "NATIVE"
)

// Valid reports whether m is one of the known modes.
func (m TransportMode) Valid() bool {
	switch m {
	case ModeDirect, ModeFast, ModeNative:
		return true
	}
	return false
}

// DispatchLeg is one movement of a settled amount to a destination domain.
type DispatchLeg struct {
	Index   int
	Domain  string
	Account string
	Amount  Amount
	Mode    TransportMode
}

// DispatchPlan distributes a settled amount across a payee's domains.
type DispatchPlan struct {
	RequestID    RequestID
	SourceDomain string
	Legs         []DispatchLeg
}

// Total sums the legs.
func (p *DispatchPlan) Total() Amount {
	var total Amount
	for _, leg := range p.Legs {
		total += leg.Amount
	}
	return total
}

// Validate checks the plan conserves expected exactly and every leg is usable.
func (p *DispatchPlan) Validate(expected Amount) error {
	if len(p.Legs) == 0 {
		return errors.New("dispatch plan must have at least one leg")
	}
	for i, leg := range p.Legs {
		if leg.Index != i {
			return fmt.Errorf("dispatch leg %d has index %d", i, leg.Index)
		}
		if leg.Amount <= 0 {
			return errors.New("dispatch leg amount must be positive")
		}
		if leg.Domain == "" {
			return errors.New("dispatch leg domain cannot be empty")
		}
		if !leg.Mode.Valid() {
			return fmt.Errorf("dispatch leg mode %q is unknown", leg.Mode)
		}
	}
	if total := p.Total(); total != expected {
		return fmt.Errorf("dispatch plan total %d does not equal settled amount %d", total, expected)
	}
	return nil
}
