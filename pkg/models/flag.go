package models

// Severity is the tier of a red-team flag.
type Severity string

// Flag severities, least to most severe.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for comparison. Unknown severities rank
// below LOW so a corrupt flag never escalates a trace.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric order of the severity (higher = more severe).
func (s Severity) Rank() int {
	return severityRank[s]
}

// FlagSource identifies which content a red-team flag was raised against.
type FlagSource string

// Flag sources.
const (
	FlagSourceInput     FlagSource = "input"
	FlagSourceOutput    FlagSource = "output"
	FlagSourceSynthesis FlagSource = "synthesis"
)

// RedTeamFlag records a single safety-pattern match. Immutable once created.
type RedTeamFlag struct {
	FlagID      string     `json:"flagId"`
	Severity    Severity   `json:"severity"`
	Categories  []string   `json:"categories"`
	Explanation string     `json:"explanation"`
	Source      FlagSource `json:"source"`
	Content     string     `json:"content"`
}
