// Package models defines the domain types shared across the orchestration
// core: traces, iterations, agent responses, red-team flags and the
// ephemeral swarm status. All persisted types carry stable JSON field names.
package models

import "time"

// TraceStatus is the lifecycle state of a persisted Trace.
type TraceStatus string

// Trace lifecycle states.
const (
	TraceStatusPending   TraceStatus = "pending"
	TraceStatusRunning   TraceStatus = "running"
	TraceStatusCompleted TraceStatus = "completed"
	TraceStatusFailed    TraceStatus = "failed"
)

// Terminal reports whether the status is final. A Trace never transitions
// from a terminal status back to a non-terminal one.
func (s TraceStatus) Terminal() bool {
	return s == TraceStatusCompleted || s == TraceStatusFailed
}

// TokenCounts holds input/output token usage for a single upstream call.
type TokenCounts struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// AgentResponse is one agent's answer within an iteration. Confidence is
// parsed from the trailing [CONFIDENCE: X.XX] tag in the model output;
// absent or out-of-range values clamp to 0.5 and [0,1].
type AgentResponse struct {
	AgentID    string      `json:"agentId"`
	Model      string      `json:"model"`
	Response   string      `json:"response"`
	Confidence float64     `json:"confidence"`
	LatencyMs  int64       `json:"latencyMs"`
	Tokens     TokenCounts `json:"tokens"`
	Error      string      `json:"error,omitempty"`
}

// Iteration is one critique round (or the initial fan-out when critique is
// skipped). IterationID equals the 1-based index within Trace.Iterations.
type Iteration struct {
	IterationID    int             `json:"iterationId"`
	AgentResponses []AgentResponse `json:"agentResponses"`
	ConsensusScore float64         `json:"consensusScore"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Trace is the complete, persisted record of one mission's lifecycle.
// Owned exclusively by the trace store once saved.
type Trace struct {
	TraceID               string             `json:"traceId"`
	Timestamp             time.Time          `json:"timestamp"`
	Mission               string             `json:"mission"`
	Iterations            []Iteration        `json:"iterations"`
	BranchScores          map[string]float64 `json:"branchScores"`
	RedTeamFlags          []RedTeamFlag      `json:"redTeamFlags"`
	FinalPosteriorWeights map[string]float64 `json:"finalPosteriorWeights"`
	SynthesisResult       string             `json:"synthesisResult"`
	CostEstimate          float64            `json:"costEstimate"`
	ActualCost            float64            `json:"actualCost"`
	DurationMs            int64              `json:"durationMs"`
	Status                TraceStatus        `json:"status"`
	Error                 string             `json:"error,omitempty"`
}

// CostEstimate is the result of the pre-flight cost check. No API calls are
// made to produce it.
type CostEstimate struct {
	InputTokens          int     `json:"inputTokens"`
	ExpectedOutputTokens int     `json:"expectedOutputTokens"`
	SwarmCost            float64 `json:"swarmCost"`
	SynthesisCost        float64 `json:"synthesisCost"`
	TotalCost            float64 `json:"totalCost"`
	WithinBudget         bool    `json:"withinBudget"`
}
