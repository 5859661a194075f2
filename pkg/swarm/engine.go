// Package swarm runs missions against a Bayesian swarm of LLM agents:
// throttled concurrent fan-out, a multi-round critique loop under a
// stagnation guardian, posterior weighting and final synthesis with
// fallback. One Engine serves any number of concurrent missions.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warrenet/nebula/pkg/bus"
	"github.com/warrenet/nebula/pkg/config"
	"github.com/warrenet/nebula/pkg/cost"
	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/metrics"
	"github.com/warrenet/nebula/pkg/models"
	"github.com/warrenet/nebula/pkg/safety"
	"github.com/warrenet/nebula/pkg/store"
)

// Critique loop tuning.
const (
	maxCritiqueIterations   = 5
	consensusThreshold      = 0.92
	minConsensusImprovement = 0.02
	guardianPatience        = 2
)

// agentMaxTokens caps each fan-out agent's response length.
const agentMaxTokens = 600

// Caller issues one upstream chat-completion call. Satisfied by
// *llm.Client; tests substitute stubs.
type Caller interface {
	Call(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Engine orchestrates missions. All shared state (trace store, event bus,
// metrics, status registry) is injected or owned by the engine; nothing is
// package-global.
type Engine struct {
	cfg       *config.Config
	caller    Caller
	traces    *store.Store
	bus       *bus.Bus
	metrics   *metrics.Registry
	estimator *cost.Estimator
	registry  *statusRegistry
}

// Option customizes engine construction.
type Option func(*Engine)

// WithGracePeriod overrides how long terminal swarm statuses stay visible
// before eviction. Tests shrink this to avoid waiting out the default 30s.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		e.registry = newStatusRegistry(d)
	}
}

// New creates an Engine with explicit dependencies.
func New(cfg *config.Config, caller Caller, traces *store.Store, eventBus *bus.Bus, reg *metrics.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		caller:    caller,
		traces:    traces,
		bus:       eventBus,
		metrics:   reg,
		estimator: cost.NewEstimator(cfg),
		registry:  newStatusRegistry(statusGracePeriod),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate prices a mission without executing it.
func (e *Engine) Estimate(mission string, swarmSize int, maxBudget float64) models.CostEstimate {
	swarmSize = clampSwarmSize(swarmSize)
	if maxBudget <= 0 {
		maxBudget = e.cfg.MaxBudget
	}
	return e.estimator.Estimate(mission, swarmSize, maxBudget)
}

// Status returns a snapshot of an in-flight (or recently terminal) swarm.
func (e *Engine) Status(traceID string) (*models.SwarmStatus, bool) {
	return e.registry.get(traceID)
}

// ActiveSwarms snapshots every live swarm status.
func (e *Engine) ActiveSwarms() []*models.SwarmStatus {
	return e.registry.active()
}

// Cancel aborts a running mission. The mission's trace settles as failed
// with error "cancelled".
func (e *Engine) Cancel(traceID string) error {
	if !e.registry.cancel(traceID) {
		return ErrMissionNotFound
	}
	return nil
}

// ExecuteMission runs one mission to a terminal trace. It blocks until the
// trace settles, publishing thought and swarm events throughout and
// persisting the trace at each meaningful state change.
func (e *Engine) ExecuteMission(ctx context.Context, mission string, swarmSize int, maxBudget float64) (*models.Trace, error) {
	e.metrics.MissionsTotal.Inc()
	start := time.Now()

	// Safety preflight: a blocked mission persists a failed trace and never
	// reaches an upstream call. Non-blocking flags still travel with the
	// trace.
	inputFlags := safety.Scan(mission, models.FlagSourceInput)
	if len(inputFlags) > 0 {
		e.metrics.RedTeamFlags.Add(float64(len(inputFlags)))
	}
	if safety.ShouldBlock(inputFlags) {
		trace := &models.Trace{
			TraceID:               uuid.New().String(),
			Timestamp:             time.Now().UTC(),
			Mission:               safety.Sanitize(mission),
			Iterations:            []models.Iteration{},
			BranchScores:          map[string]float64{},
			RedTeamFlags:          inputFlags,
			FinalPosteriorWeights: map[string]float64{},
			Status:                models.TraceStatusFailed,
			Error:                 "Mission blocked by safety system",
			DurationMs:            time.Since(start).Milliseconds(),
		}
		if err := e.traces.Save(trace); err != nil {
			slog.Error("Failed to persist blocked trace", "trace_id", trace.TraceID, "error", err)
		}
		e.metrics.MissionsFailed.Inc()
		slog.Warn("Mission blocked by safety scan",
			"trace_id", trace.TraceID, "flags", len(inputFlags),
			"severity", safety.HighestSeverity(inputFlags))
		return nil, ErrSafetyBlocked
	}

	swarmSize = clampSwarmSize(swarmSize)
	if maxBudget <= 0 {
		maxBudget = e.cfg.MaxBudget
	}

	estimate := e.estimator.Estimate(mission, swarmSize, maxBudget)
	if !estimate.WithinBudget {
		return nil, &BudgetExceededError{Estimate: estimate.TotalCost, MaxBudget: maxBudget}
	}

	trace := &models.Trace{
		TraceID:               uuid.New().String(),
		Timestamp:             time.Now().UTC(),
		Mission:               safety.Sanitize(mission),
		Iterations:            []models.Iteration{},
		BranchScores:          map[string]float64{},
		RedTeamFlags:          inputFlags,
		FinalPosteriorWeights: map[string]float64{},
		Status:                models.TraceStatusRunning,
		CostEstimate:          estimate.TotalCost,
	}
	if trace.RedTeamFlags == nil {
		trace.RedTeamFlags = []models.RedTeamFlag{}
	}
	if err := e.traces.Save(trace); err != nil {
		return nil, fmt.Errorf("persisting initial trace: %w", err)
	}

	missionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	agents := make([]models.SwarmAgent, swarmSize)
	for i := range agents {
		agents[i] = models.SwarmAgent{
			ID:     fmt.Sprintf("agent-%d", i+1),
			Status: models.AgentStatePending,
			Model:  e.cfg.SwarmModel,
		}
	}
	e.registry.put(&models.SwarmStatus{
		TraceID: trace.TraceID,
		Status:  models.SwarmStatePending,
		Agents:  agents,
		Message: "Mission accepted",
	}, cancel)

	log := slog.With("trace_id", trace.TraceID)
	log.Info("Mission started", "swarm_size", swarmSize, "estimate", estimate.TotalCost)

	run := &missionRun{
		engine:    e,
		trace:     trace,
		mission:   mission,
		swarmSize: swarmSize,
		log:       log,
		start:     start,
	}

	result, err := run.execute(missionCtx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// missionRun carries the mutable state of one mission through its phases.
type missionRun struct {
	engine    *Engine
	trace     *models.Trace
	mission   string
	swarmSize int
	log       *slog.Logger
	start     time.Time

	// upstream token accounting for actualCost; swarmTokens is appended
	// from concurrent agent goroutines.
	tokensMu       sync.Mutex
	reviewerUsage  llm.Usage
	synthesisUsage llm.Usage
	swarmTokens    []models.TokenCounts
}

// execute drives fan-out → critique → synthesis and settles the trace.
func (r *missionRun) execute(ctx context.Context) (*models.Trace, error) {
	r.setStatus(models.SwarmStateRunning, 0, "Dispatching agents")

	responses := r.fanOut(ctx)
	if ctx.Err() != nil {
		return nil, r.fail(ctx.Err(), "cancelled")
	}

	// Scan every non-empty agent response before it is persisted.
	for _, resp := range responses {
		if resp.Response == "" {
			continue
		}
		if flags := safety.Scan(resp.Response, models.FlagSourceOutput); len(flags) > 0 {
			r.trace.RedTeamFlags = append(r.trace.RedTeamFlags, flags...)
			r.engine.metrics.RedTeamFlags.Add(float64(len(flags)))
		}
	}

	weights := posteriorWeights(responses)

	responses, weights = r.critiqueLoop(ctx, responses, weights)
	if ctx.Err() != nil {
		return nil, r.fail(ctx.Err(), "cancelled")
	}

	synthesis, err := r.synthesize(ctx, responses, weights)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(ctx.Err(), "cancelled")
		}
		return nil, r.fail(err, err.Error())
	}

	return r.complete(synthesis, weights)
}

// complete persists the terminal completed trace and settles bookkeeping.
func (r *missionRun) complete(synthesis string, weights map[string]float64) (*models.Trace, error) {
	actualCost := r.actualCost()
	duration := time.Since(r.start).Milliseconds()

	final, err := r.engine.traces.Update(r.trace.TraceID, func(t *models.Trace) {
		t.Iterations = r.trace.Iterations
		t.RedTeamFlags = r.trace.RedTeamFlags
		t.FinalPosteriorWeights = weights
		t.SynthesisResult = safety.Sanitize(synthesis)
		t.ActualCost = actualCost
		t.DurationMs = duration
		t.Status = models.TraceStatusCompleted
	})
	if err != nil {
		return nil, fmt.Errorf("persisting completed trace: %w", err)
	}

	r.engine.metrics.ObserveDuration(float64(duration))
	r.engine.metrics.MissionsSuccess.Inc()
	r.engine.metrics.CostTotal.Add(actualCost)

	r.setStatus(models.SwarmStateCompleted, 100, "Mission complete")
	r.settle()

	r.log.Info("Mission completed",
		"duration_ms", duration, "actual_cost", actualCost,
		"iterations", len(final.Iterations))
	return final, nil
}

// fail persists the terminal failed trace. The returned error is the one
// the caller should surface.
func (r *missionRun) fail(cause error, traceError string) error {
	duration := time.Since(r.start).Milliseconds()

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		traceError = "cancelled"
	}

	_, err := r.engine.traces.Update(r.trace.TraceID, func(t *models.Trace) {
		t.Iterations = r.trace.Iterations
		t.RedTeamFlags = r.trace.RedTeamFlags
		t.ActualCost = r.actualCost()
		t.DurationMs = duration
		t.Status = models.TraceStatusFailed
		t.Error = traceError
	})
	if err != nil {
		r.log.Error("Failed to persist failed trace", "error", err)
	}

	r.engine.metrics.MissionsFailed.Inc()
	r.setStatus(models.SwarmStateFailed, 100, traceError)
	r.settle()

	r.log.Warn("Mission failed", "error", traceError, "duration_ms", duration)
	return cause
}

// actualCost bills per-agent swarm tokens (free model → 0) plus reviewer
// and synthesis usage at their models' rates. Failed primary synthesis
// calls contribute nothing: only the usage of the call that answered is
// recorded.
func (r *missionRun) actualCost() float64 {
	cfg := r.engine.cfg

	var total float64
	swarmRate := cfg.Rate(cfg.SwarmModel)
	for _, t := range r.swarmTokens {
		total += float64(t.Input)/1000*swarmRate.Input + float64(t.Output)/1000*swarmRate.Output
	}

	reviewerRate := cfg.Rate(cfg.ReviewerModel)
	total += float64(r.reviewerUsage.PromptTokens)/1000*reviewerRate.Input +
		float64(r.reviewerUsage.CompletionTokens)/1000*reviewerRate.Output

	synthRate := cfg.Rate(cfg.SynthesisModel)
	total += float64(r.synthesisUsage.PromptTokens)/1000*synthRate.Input +
		float64(r.synthesisUsage.CompletionTokens)/1000*synthRate.Output

	return total
}

// settle releases the cancel registration, schedules status eviction and
// tears down bus subscriptions once the grace period elapses.
func (r *missionRun) settle() {
	traceID := r.trace.TraceID
	r.engine.registry.settle(traceID, func() {
		r.engine.bus.CloseTrace(traceID)
	})
}

func (r *missionRun) setStatus(state models.SwarmState, progress int, message string) {
	r.engine.registry.mutate(r.trace.TraceID, func(s *models.SwarmStatus) {
		s.Status = state
		s.Progress = progress
		s.Message = message
	})
}

func (r *missionRun) publishEvent(eventType models.SwarmEventType, data map[string]any) {
	r.engine.bus.PublishEvent(models.SwarmEvent{
		TraceID:   r.trace.TraceID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (r *missionRun) publishThought(agentID string, thoughtType models.ThoughtType, content string, confidence *float64) {
	r.engine.bus.PublishThought(models.AgentThought{
		TraceID:    r.trace.TraceID,
		AgentID:    agentID,
		Type:       thoughtType,
		Content:    content,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	})
}

// persistIterations checkpoints the trace's iteration list and weights.
// Iteration k is always persisted before round k+1 begins.
func (r *missionRun) persistIterations(weights map[string]float64) {
	_, err := r.engine.traces.Update(r.trace.TraceID, func(t *models.Trace) {
		t.Iterations = r.trace.Iterations
		t.RedTeamFlags = r.trace.RedTeamFlags
		t.FinalPosteriorWeights = weights
	})
	if err != nil {
		r.log.Error("Failed to checkpoint trace", "error", err)
	}
}

func clampSwarmSize(n int) int {
	switch {
	case n <= 0:
		return config.DefaultSwarmSize
	case n > config.MaxAgents:
		return config.MaxAgents
	default:
		return n
	}
}

// meanConfidence is the critique-skipped consensus fallback.
func meanConfidence(responses []models.AgentResponse) float64 {
	if len(responses) == 0 {
		return 0
	}
	var sum float64
	for _, r := range responses {
		sum += r.Confidence
	}
	return sum / float64(len(responses))
}
