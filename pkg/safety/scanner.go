// Package safety provides regex-based content classification (red-team
// scanning) and sanitization of text before persistence. The pattern set is
// closed and compiled once at package init; scanning is stateless.
package safety

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/warrenet/nebula/pkg/models"
)

// pattern is one labeled red-team detection rule.
type pattern struct {
	category    string
	severity    models.Severity
	regex       *regexp.Regexp
	explanation string
}

// redTeamPatterns is the closed pattern set. All patterns are
// case-insensitive; overlapping matches each flag independently.
var redTeamPatterns = []pattern{
	{
		category:    "violence",
		severity:    models.SeverityCritical,
		regex:       regexp.MustCompile(`(?i)\b(?:how (?:do i|to|can i) (?:make|build|create) (?:a |an )?(?:bomb|explosive|weapon)|kill (?:someone|a person|people)|mass (?:shooting|casualty))\b`),
		explanation: "Content requests or describes instructions for violence or weapons.",
	},
	{
		category:    "illegal",
		severity:    models.SeverityHigh,
		regex:       regexp.MustCompile(`(?i)\b(?:how to (?:hack|steal|launder)|synthesi[sz]e (?:meth|fentanyl|drugs)|buy (?:stolen|illegal)|counterfeit (?:money|currency)|credit card fraud)\b`),
		explanation: "Content requests assistance with illegal activity.",
	},
	{
		category:    "pii",
		severity:    models.SeverityMedium,
		regex:       regexp.MustCompile(`(?i)\b(?:\d{3}-\d{2}-\d{4}|(?:\d[ -]?){15}\d|ssn|social security number)\b`),
		explanation: "Content contains or solicits personally identifiable information.",
	},
	{
		category:    "manipulation",
		severity:    models.SeverityMedium,
		regex:       regexp.MustCompile(`(?i)\b(?:ignore (?:all |your )?(?:previous |prior )?instructions|pretend (?:you are|to be) (?:dan|unrestricted)|jailbreak|developer mode)\b`),
		explanation: "Content attempts to manipulate or override system instructions.",
	},
	{
		category:    "self-harm",
		severity:    models.SeverityCritical,
		regex:       regexp.MustCompile(`(?i)\b(?:how to (?:kill|hurt) myself|commit suicide|self[ -]harm methods|end my (?:own )?life)\b`),
		explanation: "Content references self-harm or suicide methods.",
	},
	{
		category:    "csam",
		severity:    models.SeverityCritical,
		regex:       regexp.MustCompile(`(?i)\b(?:child (?:sexual|porn|abuse material)|minor[s]? (?:sexual|explicit)|csam)\b`),
		explanation: "Content references child sexual abuse material.",
	},
}

// Scan evaluates the closed pattern set against content and returns one
// flag per match, each with a fresh UUID and the matched substring passed
// through Sanitize.
func Scan(content string, source models.FlagSource) []models.RedTeamFlag {
	if content == "" {
		return nil
	}

	var flags []models.RedTeamFlag
	for _, p := range redTeamPatterns {
		for _, match := range p.regex.FindAllString(content, -1) {
			flags = append(flags, models.RedTeamFlag{
				FlagID:      uuid.New().String(),
				Severity:    p.severity,
				Categories:  []string{p.category},
				Explanation: p.explanation,
				Source:      source,
				Content:     Sanitize(match),
			})
		}
	}
	return flags
}

// HighestSeverity returns the most-severe tier present in flags, or the
// empty severity when flags is empty.
func HighestSeverity(flags []models.RedTeamFlag) models.Severity {
	var highest models.Severity
	for _, f := range flags {
		if f.Severity.Rank() > highest.Rank() {
			highest = f.Severity
		}
	}
	return highest
}

// ShouldBlock reports whether any flag is HIGH or CRITICAL.
func ShouldBlock(flags []models.RedTeamFlag) bool {
	for _, f := range flags {
		if f.Severity.Rank() >= models.SeverityHigh.Rank() {
			return true
		}
	}
	return false
}
