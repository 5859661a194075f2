package swarm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warrenet/nebula/pkg/models"
)

// truncatedResponseLen bounds how much of each agent response is embedded
// in the reviewer prompt.
const truncatedResponseLen = 500

// agentSystemPrompt identifies one swarm agent and mandates the trailing
// confidence tag the engine parses.
func agentSystemPrompt(agentID string) string {
	return fmt.Sprintf("You are %s, one independent analyst in a swarm working the same objective. "+
		"Give your own opinionated answer. Do not hedge toward a committee view. "+
		"End your response with a confidence tag of the form [CONFIDENCE: X.XX] "+
		"where X.XX is between 0.00 and 1.00.", agentID)
}

// reviewerPrompt embeds the mission and the truncated response set and asks
// for one re-score line per agent plus a final consensus line.
func reviewerPrompt(mission string, responses []models.AgentResponse) string {
	var b strings.Builder
	b.WriteString("You are the critique reviewer for a swarm of analysts.\n\n")
	b.WriteString("## Mission\n\n")
	b.WriteString(mission)
	b.WriteString("\n\n## Agent Responses\n\n")

	for _, r := range responses {
		if r.Error != "" || r.Response == "" {
			continue
		}
		text := r.Response
		if len(text) > truncatedResponseLen {
			text = text[:truncatedResponseLen] + "..."
		}
		fmt.Fprintf(&b, "### %s (confidence %.2f)\n%s\n\n", r.AgentID, r.Confidence, text)
	}

	b.WriteString("Re-score each agent's response for accuracy, depth and usefulness.\n")
	b.WriteString("Output exactly one line per agent in the form:\n")
	b.WriteString("agent-id: NEW_SCORE | justification\n")
	b.WriteString("where NEW_SCORE is between 0.00 and 1.00.\n")
	b.WriteString("Finish with a final line of the form:\n")
	b.WriteString("[CONSENSUS]: SCORE | note\n")
	b.WriteString("where SCORE reflects how much the responses agree on a correct answer.")
	return b.String()
}

// synthesisPrompt embeds the mission and each response annotated with its
// posterior weight and confidence.
func synthesisPrompt(mission string, responses []models.AgentResponse, weights map[string]float64) string {
	var b strings.Builder
	b.WriteString("Synthesize a single, definitive answer to the mission below from the ")
	b.WriteString("weighted agent responses. Weigh higher-weighted agents more heavily and ")
	b.WriteString("reconcile conflicts explicitly rather than averaging them away.\n\n")
	b.WriteString("## Mission\n\n")
	b.WriteString(mission)
	b.WriteString("\n\n## Agent Responses\n\n")

	// Stable ordering keeps the prompt deterministic for equal inputs.
	ordered := make([]models.AgentResponse, len(responses))
	copy(ordered, responses)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AgentID < ordered[j].AgentID })

	for _, r := range ordered {
		if r.Error != "" || r.Response == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s (Weight: %.4f, Confidence: %.2f)\n%s\n\n",
			r.AgentID, weights[r.AgentID], r.Confidence, r.Response)
	}

	b.WriteString("Respond with the synthesized answer only.")
	return b.String()
}
