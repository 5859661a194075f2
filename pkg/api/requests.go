package api

import (
	"fmt"
	"regexp"

	"github.com/warrenet/nebula/pkg/config"
)

// Mission length bounds enforced at the boundary.
const (
	minMissionLen = 1
	maxMissionLen = 10_000
)

// xssPatterns reject script-injection shapes in mission text before any
// other processing.
var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon\w+=`),
}

// ExecuteMissionRequest is the body of POST /api/mission/execute.
// SwarmSize and MaxBudget are pointers so "absent" and "zero" are
// distinguishable; absent fields take the documented defaults.
type ExecuteMissionRequest struct {
	Mission   string   `json:"mission"`
	Content   string   `json:"content,omitempty"`
	SwarmSize *int     `json:"swarmSize,omitempty"`
	MaxBudget *float64 `json:"maxBudget,omitempty"`
}

// EstimateRequest is the body of POST /api/mission/estimate.
type EstimateRequest struct {
	Mission   string `json:"mission"`
	SwarmSize *int   `json:"swarmSize,omitempty"`
}

// validateMission enforces the boundary rules shared by execute and
// estimate: length 1..10_000 and no XSS-like substrings.
func validateMission(mission string) error {
	if len(mission) < minMissionLen {
		return fmt.Errorf("mission is required")
	}
	if len(mission) > maxMissionLen {
		return fmt.Errorf("mission exceeds %d characters", maxMissionLen)
	}
	for _, p := range xssPatterns {
		if p.MatchString(mission) {
			return fmt.Errorf("mission contains disallowed markup")
		}
	}
	return nil
}

// validateSwarmSize checks an explicitly supplied swarm size. Absent values
// (nil) yield config.DefaultSwarmSize.
func validateSwarmSize(v *int) (int, error) {
	if v == nil {
		return config.DefaultSwarmSize, nil
	}
	if *v < 1 || *v > config.MaxAgents {
		return 0, fmt.Errorf("swarmSize must be an integer in [1, %d]", config.MaxAgents)
	}
	return *v, nil
}

// validateMaxBudget checks an explicitly supplied budget against the
// allowed range; absent values take the configured default.
func validateMaxBudget(v *float64, defaultBudget float64) (float64, error) {
	if v == nil {
		return defaultBudget, nil
	}
	if *v < config.MinBudget || *v > config.MaxBudgetCap {
		return 0, fmt.Errorf("maxBudget must be in [%v, %v]", config.MinBudget, config.MaxBudgetCap)
	}
	return *v, nil
}
