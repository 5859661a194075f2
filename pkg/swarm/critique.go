package swarm

import (
	"context"
	"time"

	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/models"
)

// critiqueLoop runs up to maxCritiqueIterations reviewer rounds, each
// re-scoring every agent and emitting a consensus score. The loop exits
// early on convergence (consensus ≥ threshold) or when the guardian sees
// two stagnant rounds in a row. Returns the final response set and weights.
func (r *missionRun) critiqueLoop(ctx context.Context, responses []models.AgentResponse, weights map[string]float64) ([]models.AgentResponse, map[string]float64) {
	if !anyUsable(responses) {
		// Nothing to critique: record the fan-out as the only iteration and
		// let synthesis try whatever text exists.
		r.appendIteration(responses, meanConfidence(responses))
		r.persistIterations(weights)
		return responses, weights
	}

	previousConsensus := 0.0
	stagnant := 0

	for k := 1; k <= maxCritiqueIterations; k++ {
		if ctx.Err() != nil {
			return responses, weights
		}

		r.engine.registry.mutate(r.trace.TraceID, func(s *models.SwarmStatus) {
			s.CurrentIteration = k
			s.Progress = 80 + k
			s.Message = "Critique round"
		})
		r.publishEvent(models.EventCritiqueStart, map[string]any{
			"iteration":  k,
			"agentCount": len(responses),
		})

		consensus, reviewerFailed := r.critiqueRound(ctx, responses)

		r.appendIteration(responses, consensus)
		weights = posteriorWeights(responses)
		r.persistIterations(weights)

		r.publishEvent(models.EventConsensusUpdate, map[string]any{
			"iteration":      k,
			"consensusScore": consensus,
			"threshold":      consensusThreshold,
		})
		r.publishEvent(models.EventCritiqueComplete, map[string]any{
			"iteration":      k,
			"consensusScore": consensus,
		})

		// Guardian: halt a loop that has stopped improving before it burns
		// the remaining budget.
		if reviewerFailed {
			stagnant++
		} else if k > 1 && consensus-previousConsensus < minConsensusImprovement {
			stagnant++
		} else {
			stagnant = 0
		}
		if stagnant >= guardianPatience {
			r.log.Warn("Guardian halted critique loop",
				"iteration", k, "consensus", consensus)
			r.publishEvent(models.EventConsensusUpdate, map[string]any{
				"iteration":      k,
				"consensusScore": consensus,
				"threshold":      consensusThreshold,
				"guardianFail":   true,
			})
			break
		}

		if consensus >= consensusThreshold {
			r.log.Info("Critique converged", "iteration", k, "consensus", consensus)
			break
		}

		previousConsensus = consensus
	}

	return responses, weights
}

// critiqueRound issues one reviewer call and applies its re-scores to the
// response set in place. On reviewer failure the responses stay unchanged
// and the consensus degrades to the mean confidence.
func (r *missionRun) critiqueRound(ctx context.Context, responses []models.AgentResponse) (consensus float64, reviewerFailed bool) {
	result, err := r.engine.caller.Call(ctx, llm.ChatRequest{
		Model: r.engine.cfg.ReviewerModel,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: reviewerPrompt(r.mission, responses)},
		},
	})
	if err != nil {
		r.log.Warn("Reviewer call failed, degrading to mean consensus", "error", err)
		return meanConfidence(responses), true
	}

	r.tokensMu.Lock()
	r.reviewerUsage.PromptTokens += result.Usage.PromptTokens
	r.reviewerUsage.CompletionTokens += result.Usage.CompletionTokens
	r.tokensMu.Unlock()

	r.publishThought("reviewer", models.ThoughtCritique, result.Content, nil)

	scores := parseReviewerOutput(result.Content)
	for i := range responses {
		// Errored agents stay at confidence 0; agents the reviewer skipped
		// keep their prior confidence.
		if responses[i].Error != "" {
			continue
		}
		if score, ok := scores.agents[responses[i].AgentID]; ok {
			responses[i].Confidence = score
			r.publishThought(responses[i].AgentID, models.ThoughtRefined, "", &score)
		}
	}

	if !scores.hasScore {
		return meanConfidence(responses), false
	}
	return scores.consensus, false
}

// appendIteration snapshots the current response set as the next iteration.
// Iteration ids are the 1-based index into the trace's iteration list.
func (r *missionRun) appendIteration(responses []models.AgentResponse, consensus float64) {
	snapshot := make([]models.AgentResponse, len(responses))
	copy(snapshot, responses)
	r.trace.Iterations = append(r.trace.Iterations, models.Iteration{
		IterationID:    len(r.trace.Iterations) + 1,
		AgentResponses: snapshot,
		ConsensusScore: clamp01(consensus),
		Timestamp:      time.Now().UTC(),
	})
}

// anyUsable reports whether at least one response has text to critique.
func anyUsable(responses []models.AgentResponse) bool {
	for _, r := range responses {
		if r.Error == "" && r.Response != "" {
			return true
		}
	}
	return false
}
