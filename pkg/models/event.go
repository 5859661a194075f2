package models

import "time"

// ThoughtType classifies an agent-level streaming thought.
type ThoughtType string

// Thought types published on the thoughts channel.
const (
	ThoughtThinking ThoughtType = "thinking"
	ThoughtResponse ThoughtType = "response"
	ThoughtCritique ThoughtType = "critique"
	ThoughtRefined  ThoughtType = "refined"
)

// AgentThought is a streamed agent-level text event for one trace.
type AgentThought struct {
	TraceID    string      `json:"traceId"`
	AgentID    string      `json:"agentId"`
	Type       ThoughtType `json:"thoughtType"`
	Content    string      `json:"content"`
	Confidence *float64    `json:"confidence,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SwarmEventType classifies a swarm lifecycle event.
type SwarmEventType string

// Swarm event types published on the events channel.
const (
	EventAgentStart        SwarmEventType = "agent_start"
	EventAgentThought      SwarmEventType = "agent_thought"
	EventAgentComplete     SwarmEventType = "agent_complete"
	EventCritiqueStart     SwarmEventType = "critique_start"
	EventCritiqueComplete  SwarmEventType = "critique_complete"
	EventSynthesisStart    SwarmEventType = "synthesis_start"
	EventSynthesisComplete SwarmEventType = "synthesis_complete"
	EventConsensusUpdate   SwarmEventType = "consensus_update"
)

// SwarmEvent is a swarm lifecycle event for one trace. Data is a small,
// JSON-serializable payload specific to the event type.
type SwarmEvent struct {
	TraceID   string         `json:"traceId"`
	Type      SwarmEventType `json:"eventType"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
