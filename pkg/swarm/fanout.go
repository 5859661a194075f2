package swarm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/models"
	"github.com/warrenet/nebula/pkg/safety"
)

// fanOut launches one task per agent. Agent i waits i×throttle before its
// single upstream call, so the fan-out is concurrent but the upstream sees
// a staggered arrival curve that stays under free-tier rate limits. A
// failed agent records its error and confidence 0; it never fails the
// mission.
func (r *missionRun) fanOut(ctx context.Context) []models.AgentResponse {
	n := r.swarmSize
	responses := make([]models.AgentResponse, n)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			agentID := fmt.Sprintf("agent-%d", idx+1)
			resp := r.runAgent(ctx, agentID, time.Duration(idx)*r.engine.cfg.Throttle)
			responses[idx] = resp

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()

			agentState := models.AgentStateCompleted
			if resp.Error != "" {
				agentState = models.AgentStateFailed
			}
			r.engine.registry.mutate(r.trace.TraceID, func(s *models.SwarmStatus) {
				s.Progress = done * 80 / n
				for j := range s.Agents {
					if s.Agents[j].ID == agentID {
						s.Agents[j].Status = agentState
						c, l := resp.Confidence, resp.LatencyMs
						s.Agents[j].Confidence = &c
						s.Agents[j].LatencyMs = &l
					}
				}
			})
		}(i)
	}

	wg.Wait()
	return responses
}

// runAgent sleeps out its stagger delay, then issues one upstream call and
// parses the confidence tag from the result.
func (r *missionRun) runAgent(ctx context.Context, agentID string, delay time.Duration) models.AgentResponse {
	resp := models.AgentResponse{
		AgentID: agentID,
		Model:   r.engine.cfg.SwarmModel,
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			resp.Error = "cancelled"
			return resp
		case <-time.After(delay):
		}
	}

	r.engine.registry.mutate(r.trace.TraceID, func(s *models.SwarmStatus) {
		for j := range s.Agents {
			if s.Agents[j].ID == agentID {
				s.Agents[j].Status = models.AgentStateRunning
			}
		}
	})
	r.publishEvent(models.EventAgentStart, map[string]any{"agentId": agentID})
	r.publishThought(agentID, models.ThoughtThinking, "Analyzing mission", nil)

	// Jittered temperature diversifies the swarm's answers.
	temperature := 0.8 + 0.4*rand.Float64()
	maxTokens := agentMaxTokens

	r.engine.metrics.AgentsActive.Inc()
	callStart := time.Now()
	result, err := r.engine.caller.Call(ctx, llm.ChatRequest{
		Model: r.engine.cfg.SwarmModel,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: agentSystemPrompt(agentID)},
			{Role: llm.RoleUser, Content: r.mission},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	r.engine.metrics.AgentsActive.Dec()
	resp.LatencyMs = time.Since(callStart).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			resp.Error = "cancelled"
		} else {
			resp.Error = err.Error()
		}
		r.log.Warn("Agent call failed", "agent_id", agentID, "error", resp.Error)
		r.publishEvent(models.EventAgentComplete, map[string]any{
			"agentId": agentID, "error": resp.Error,
		})
		return resp
	}

	text, confidence := parseConfidence(result.Content)
	resp.Response = safety.Sanitize(text)
	resp.Confidence = confidence
	resp.Tokens = models.TokenCounts{
		Input:  result.Usage.PromptTokens,
		Output: result.Usage.CompletionTokens,
	}

	r.trackSwarmTokens(resp.Tokens)

	r.publishThought(agentID, models.ThoughtResponse, resp.Response, &resp.Confidence)
	r.publishEvent(models.EventAgentComplete, map[string]any{
		"agentId":    agentID,
		"confidence": resp.Confidence,
		"latencyMs":  resp.LatencyMs,
	})
	return resp
}

// trackSwarmTokens records one agent call's usage for actual-cost billing.
func (r *missionRun) trackSwarmTokens(t models.TokenCounts) {
	r.tokensMu.Lock()
	r.swarmTokens = append(r.swarmTokens, t)
	r.tokensMu.Unlock()
}
