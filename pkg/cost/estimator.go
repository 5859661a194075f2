// Package cost estimates mission cost from a token-count heuristic and the
// configured per-model pricing table. No API calls are made.
package cost

import (
	"github.com/warrenet/nebula/pkg/config"
	"github.com/warrenet/nebula/pkg/models"
)

// Expected token volumes used by the estimate. Synthesis reads the mission
// plus every agent's expected output.
const (
	ExpectedOutputTokens  = 500
	SynthesisOutputTokens = 1000
	charsPerToken         = 4
)

// Tokens approximates the token count of text: ceil(chars/4).
func Tokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Estimator prices missions against the configured model table.
type Estimator struct {
	cfg *config.Config
}

// NewEstimator creates an Estimator bound to the pricing table in cfg.
func NewEstimator(cfg *config.Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate computes the expected mission cost for the given swarm size and
// budget. The swarm fan-out uses the free swarm model; synthesis uses the
// synthesis model's rates.
func (e *Estimator) Estimate(mission string, swarmSize int, maxBudget float64) models.CostEstimate {
	inputTokens := Tokens(mission)

	swarmRate := e.cfg.Rate(e.cfg.SwarmModel)
	swarmCost := float64(swarmSize) * (float64(inputTokens)/1000*swarmRate.Input +
		float64(ExpectedOutputTokens)/1000*swarmRate.Output)

	synthRate := e.cfg.Rate(e.cfg.SynthesisModel)
	synthInputTokens := inputTokens + swarmSize*ExpectedOutputTokens
	synthesisCost := float64(synthInputTokens)/1000*synthRate.Input +
		float64(SynthesisOutputTokens)/1000*synthRate.Output

	total := swarmCost + synthesisCost

	return models.CostEstimate{
		InputTokens:          inputTokens,
		ExpectedOutputTokens: ExpectedOutputTokens,
		SwarmCost:            swarmCost,
		SynthesisCost:        synthesisCost,
		TotalCost:            total,
		WithinBudget:         total <= maxBudget,
	}
}
