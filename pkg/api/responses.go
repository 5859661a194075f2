package api

import (
	"time"

	"github.com/warrenet/nebula/pkg/models"
	"github.com/warrenet/nebula/pkg/tiering"
)

// ExecuteMissionResponse is returned by POST /api/mission/execute for both
// tiers. Task-tier responses carry a synthetic "task-<unix-ms>" trace id,
// zero cost and no iterations.
type ExecuteMissionResponse struct {
	TraceID      string               `json:"traceId"`
	Synthesis    string               `json:"synthesis"`
	Iterations   []models.Iteration   `json:"iterations"`
	Cost         float64              `json:"cost"`
	DurationMs   int64                `json:"durationMs"`
	RedTeamFlags []models.RedTeamFlag `json:"redTeamFlags"`
	Tier         tiering.Tier         `json:"tier"`
	TierReason   string               `json:"tierReason"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse is the uniform error body: a human-readable message plus a
// stable machine code. Stack traces are never included.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds, rate-limit responses only
}

// Error codes used in ErrorResponse.Code.
const (
	codeValidation     = "VALIDATION_ERROR"
	codeNotFound       = "NOT_FOUND"
	codeBudgetExceeded = "BUDGET_EXCEEDED"
	codeSafetyBlocked  = "SAFETY_BLOCKED"
	codeRateLimited    = "RATE_LIMITED"
	codeUpstreamFailed = "UPSTREAM_FAILED"
	codeInternal       = "INTERNAL_ERROR"
)
