package swarm

import (
	"regexp"
	"strconv"
	"strings"
)

// defaultConfidence is used when the model output carries no parseable
// confidence tag.
const defaultConfidence = 0.5

var (
	confidenceTag = regexp.MustCompile(`(?i)\[CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*\]`)

	// Reviewer output: one "agent-id: score | justification" line per agent
	// and a final "[CONSENSUS]: score | note" line. Whitespace and case
	// variations are tolerated; brackets around CONSENSUS are optional.
	reviewerLine  = regexp.MustCompile(`(?im)^\s*(agent-\d+)\s*:\s*([0-9]*\.?[0-9]+)\s*(?:\|\s*(.*?))?\s*$`)
	consensusLine = regexp.MustCompile(`(?im)^\s*\[?CONSENSUS\]?\s*:\s*([0-9]*\.?[0-9]+)`)
)

// parseConfidence extracts the trailing [CONFIDENCE: X.XX] tag from a model
// response. Returns the response with the tag stripped and the clamped
// confidence; a missing or malformed tag yields the 0.5 default. Parse
// misses never fail the mission.
func parseConfidence(response string) (string, float64) {
	m := confidenceTag.FindStringSubmatchIndex(response)
	if m == nil {
		return strings.TrimSpace(response), defaultConfidence
	}

	value, err := strconv.ParseFloat(response[m[2]:m[3]], 64)
	if err != nil {
		value = defaultConfidence
	}

	stripped := response[:m[0]] + response[m[1]:]
	return strings.TrimSpace(stripped), clamp01(value)
}

// reviewerScores holds the parsed output of one critique round.
type reviewerScores struct {
	agents    map[string]float64 // agent id → new clamped score
	consensus float64
	hasScore  bool // whether a consensus line was found
}

// parseReviewerOutput extracts per-agent re-scores and the consensus score
// from the reviewer's raw text. Agents absent from the output keep their
// prior confidence; a missing consensus line is reported via hasScore so
// the caller can fall back to the mean.
func parseReviewerOutput(text string) reviewerScores {
	out := reviewerScores{agents: make(map[string]float64)}

	for _, m := range reviewerLine.FindAllStringSubmatch(text, -1) {
		score, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out.agents[strings.ToLower(m[1])] = clamp01(score)
	}

	if m := consensusLine.FindStringSubmatch(text); m != nil {
		if score, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.consensus = clamp01(score)
			out.hasScore = true
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
