package swarm

import (
	"errors"
	"fmt"
)

// ErrSafetyBlocked is returned when the input scan raises a HIGH or
// CRITICAL flag. A failed trace has been persisted when this is returned.
var ErrSafetyBlocked = errors.New("mission blocked by safety system")

// ErrMissionNotFound is returned by Cancel for unknown or already-settled
// missions.
var ErrMissionNotFound = errors.New("no running mission with that trace id")

// BudgetExceededError is returned by preflight when the estimate exceeds
// the mission budget. No trace is persisted in this case.
type BudgetExceededError struct {
	Estimate  float64
	MaxBudget float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("estimated cost $%.4f exceeds budget $%.2f", e.Estimate, e.MaxBudget)
}

// SynthesisFailedError is returned when both the primary synthesis model
// and the fallback failed; the mission trace has been persisted as failed.
type SynthesisFailedError struct {
	Primary  error
	Fallback error
}

func (e *SynthesisFailedError) Error() string {
	return fmt.Sprintf("synthesis failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *SynthesisFailedError) Unwrap() error { return e.Fallback }
