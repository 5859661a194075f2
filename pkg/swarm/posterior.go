package swarm

import "github.com/warrenet/nebula/pkg/models"

// latencyHalfPoint is the latency (ms) at which the latency factor reaches
// one half.
const latencyHalfPoint = 10000.0

// posteriorWeights computes the normalized contribution of each agent to
// synthesis. Only non-errored responses with confidence > 0 qualify; the
// result is empty when none do. Weights sum to 1 within 1e-9 and the
// computation is equivariant under permutation of agent ids.
func posteriorWeights(responses []models.AgentResponse) map[string]float64 {
	var confidenceSum float64
	for _, r := range responses {
		if r.Error == "" && r.Confidence > 0 {
			confidenceSum += r.Confidence
		}
	}
	if confidenceSum == 0 {
		return map[string]float64{}
	}

	raw := make(map[string]float64)
	var rawSum float64
	for _, r := range responses {
		if r.Error != "" || r.Confidence <= 0 {
			continue
		}
		base := r.Confidence / confidenceSum
		latencyFactor := 1 / (1 + float64(r.LatencyMs)/latencyHalfPoint)
		w := base * (0.8 + 0.2*latencyFactor)
		raw[r.AgentID] = w
		rawSum += w
	}

	weights := make(map[string]float64, len(raw))
	for id, w := range raw {
		weights[id] = w / rawSum
	}
	return weights
}
