package swarm

import (
	"context"

	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/models"
	"github.com/warrenet/nebula/pkg/safety"
)

// synthesize produces the final answer from the weighted response set. The
// primary synthesis model gets one attempt; on any error the fallback model
// gets one more. Both failing is fatal to the mission.
func (r *missionRun) synthesize(ctx context.Context, responses []models.AgentResponse, weights map[string]float64) (string, error) {
	r.setStatus(models.SwarmStateSynthesizing, 85, "Synthesizing final answer")
	r.publishEvent(models.EventSynthesisStart, map[string]any{
		"agentCount": len(responses),
	})

	prompt := synthesisPrompt(r.mission, responses, weights)
	request := llm.ChatRequest{
		Model: r.engine.cfg.SynthesisModel,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: prompt},
		},
	}

	result, primaryErr := r.engine.caller.Call(ctx, request)
	if primaryErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.log.Warn("Primary synthesis failed, retrying with fallback model",
			"model", r.engine.cfg.SynthesisModel, "error", primaryErr)

		request.Model = r.engine.cfg.FallbackModel
		var fallbackErr error
		result, fallbackErr = r.engine.caller.Call(ctx, request)
		if fallbackErr != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &SynthesisFailedError{Primary: primaryErr, Fallback: fallbackErr}
		}
	}

	// Only the call that answered is billed; a failed primary contributes
	// no tokens.
	r.tokensMu.Lock()
	r.synthesisUsage.PromptTokens += result.Usage.PromptTokens
	r.synthesisUsage.CompletionTokens += result.Usage.CompletionTokens
	r.tokensMu.Unlock()

	if flags := safety.Scan(result.Content, models.FlagSourceSynthesis); len(flags) > 0 {
		r.trace.RedTeamFlags = append(r.trace.RedTeamFlags, flags...)
		r.engine.metrics.RedTeamFlags.Add(float64(len(flags)))
	}

	r.publishEvent(models.EventSynthesisComplete, map[string]any{
		"length": len(result.Content),
	})
	return result.Content, nil
}
