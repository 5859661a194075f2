// Package tiering decides whether a request is a trivially handled local
// task ($0) or a mission that invokes the swarm. Classification and the
// local task handlers are pure functions.
package tiering

import (
	"regexp"
	"strings"
)

// Tier is the routing decision for a request.
type Tier string

// Tiers.
const (
	TierTask    Tier = "task"
	TierMission Tier = "mission"
)

// Classification is the result of classifying a mission string.
type Classification struct {
	Tier         Tier    `json:"tier"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	LocalHandler string  `json:"localHandler,omitempty"`
}

// simpleTaskPatterns map a local handler id to the request shapes it serves.
// Evaluated first; a match short-circuits the remaining rules.
var simpleTaskPatterns = []struct {
	handler string
	regex   *regexp.Regexp
}{
	{"textCleaner", regexp.MustCompile(`(?i)\b(?:clean|fix|correct)\b.*\b(?:text|spelling|typos?|quotes?)\b`)},
	{"textCleaner", regexp.MustCompile(`(?i)\bclean\b.*\bspelling\b`)},
	{"whitespaceHandler", regexp.MustCompile(`(?i)\b(?:collapse|strip|trim|remove)\b.*\b(?:whitespace|spaces)\b`)},
	{"caseTransformer", regexp.MustCompile(`(?i)\b(?:upper|lower|sentence)[- ]?case\b|\bconvert\b.*\bcase\b`)},
	{"caseTransformer", regexp.MustCompile(`(?i)\b(?:capitalize|uppercase|lowercase)\b`)},
	{"counter", regexp.MustCompile(`(?i)\bcount\b.*\b(?:words?|chars?|characters?|lines?)\b`)},
	{"counter", regexp.MustCompile(`(?i)\b(?:word|char|character|line) count\b`)},
	{"textCleaner", regexp.MustCompile(`(?i)\b(?:format|extract|sort)\b.*\b(?:text|list|lines?)\b`)},
}

// missionIndicators is the fixed vocabulary whose occurrence count pushes a
// request toward the mission tier.
var missionIndicators = []string{
	"analyze", "analyse", "synthesize", "synthesise", "design", "evaluate",
	"compare", "investigate", "research", "strategy", "architect", "assess",
	"recommend", "optimize", "optimise", "explain why", "trade-off", "tradeoff",
}

// Classify routes a mission string. Rules are evaluated in order; the first
// match wins. Equal inputs always yield equal outputs.
func Classify(mission string) Classification {
	words := strings.Fields(mission)
	wordCount := len(words)
	charCount := len(mission)

	// 1. Simple task shapes run locally at zero cost.
	for _, p := range simpleTaskPatterns {
		if p.regex.MatchString(mission) {
			return Classification{
				Tier:         TierTask,
				Confidence:   0.95,
				Reason:       "matches simple task pattern",
				LocalHandler: p.handler,
			}
		}
	}

	// 2. Very short input is a task.
	if wordCount < 5 && charCount < 40 {
		return Classification{
			Tier:       TierTask,
			Confidence: 0.7,
			Reason:     "short input",
		}
	}

	// 3. Mission-indicator vocabulary.
	lower := strings.ToLower(mission)
	indicators := 0
	for _, ind := range missionIndicators {
		indicators += strings.Count(lower, ind)
	}
	if indicators >= 2 {
		return Classification{
			Tier:       TierMission,
			Confidence: 0.9,
			Reason:     "multiple mission indicators",
		}
	}
	if indicators == 1 && wordCount >= 15 {
		return Classification{
			Tier:       TierMission,
			Confidence: 0.8,
			Reason:     "mission indicator with substantial input",
		}
	}

	// 4. Long input defaults to mission.
	if wordCount >= 15 || charCount >= 80 {
		return Classification{
			Tier:       TierMission,
			Confidence: 0.75,
			Reason:     "long input",
		}
	}

	// 5. Everything else is a task.
	return Classification{
		Tier:       TierTask,
		Confidence: 0.6,
		Reason:     "default",
	}
}
