package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/warrenet/nebula/pkg/config"
	"github.com/warrenet/nebula/pkg/models"
	"github.com/warrenet/nebula/pkg/safety"
	"github.com/warrenet/nebula/pkg/store"
	"github.com/warrenet/nebula/pkg/tiering"
)

// executeMissionHandler handles POST /api/mission/execute. Task-tier
// requests are served locally at zero cost; mission-tier requests, and any
// request the input safety scan would block, go to the engine, which blocks
// until the trace is terminal.
func (s *Server) executeMissionHandler(c *echo.Context) error {
	var req ExecuteMissionRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid JSON body")
	}
	if err := validateMission(req.Mission); err != nil {
		return validationError(c, err.Error())
	}
	swarmSize, err := validateSwarmSize(req.SwarmSize)
	if err != nil {
		return validationError(c, err.Error())
	}
	maxBudget, err := validateMaxBudget(req.MaxBudget, s.cfg.MaxBudget)
	if err != nil {
		return validationError(c, err.Error())
	}

	classification := tiering.Classify(req.Mission)

	// Blocked input never takes the local path: the engine's safety
	// preflight persists the failed trace and returns the 403 error.
	blocked := safety.ShouldBlock(safety.Scan(req.Mission, models.FlagSourceInput))

	if classification.Tier == tiering.TierTask && !blocked {
		start := time.Now()
		result := req.Mission
		if req.Content != "" {
			result = tiering.RunHandler(classification.LocalHandler, req.Mission, req.Content)
		}
		return c.JSON(http.StatusOK, ExecuteMissionResponse{
			TraceID:      fmt.Sprintf("task-%d", start.UnixMilli()),
			Synthesis:    result,
			Iterations:   []models.Iteration{},
			Cost:         0,
			DurationMs:   time.Since(start).Milliseconds(),
			RedTeamFlags: []models.RedTeamFlag{},
			Tier:         classification.Tier,
			TierReason:   classification.Reason,
		})
	}

	trace, err := s.engine.ExecuteMission(c.Request().Context(), req.Mission, swarmSize, maxBudget)
	if err != nil {
		return writeCoreError(c, err)
	}

	return c.JSON(http.StatusOK, ExecuteMissionResponse{
		TraceID:      trace.TraceID,
		Synthesis:    trace.SynthesisResult,
		Iterations:   trace.Iterations,
		Cost:         trace.ActualCost,
		DurationMs:   trace.DurationMs,
		RedTeamFlags: trace.RedTeamFlags,
		Tier:         classification.Tier,
		TierReason:   classification.Reason,
	})
}

// estimateHandler handles POST /api/mission/estimate.
func (s *Server) estimateHandler(c *echo.Context) error {
	var req EstimateRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid JSON body")
	}
	if err := validateMission(req.Mission); err != nil {
		return validationError(c, err.Error())
	}
	swarmSize, err := validateSwarmSize(req.SwarmSize)
	if err != nil {
		return validationError(c, err.Error())
	}

	return c.JSON(http.StatusOK, s.engine.Estimate(req.Mission, swarmSize, s.cfg.MaxBudget))
}

// getTraceHandler handles GET /api/mission/:traceId.
func (s *Server) getTraceHandler(c *echo.Context) error {
	traceID, err := parseTraceID(c)
	if err != nil {
		return validationError(c, err.Error())
	}

	trace, err := s.traces.Get(traceID)
	if err != nil {
		return writeCoreError(c, err)
	}
	return c.JSON(http.StatusOK, trace)
}

// getStatusHandler handles GET /api/mission/:traceId/status. Falls back to
// a degenerate status derived from the persisted trace once the live swarm
// status has been evicted.
func (s *Server) getStatusHandler(c *echo.Context) error {
	traceID, err := parseTraceID(c)
	if err != nil {
		return validationError(c, err.Error())
	}

	if status, ok := s.engine.Status(traceID); ok {
		return c.JSON(http.StatusOK, status)
	}

	trace, err := s.traces.Get(traceID)
	if err != nil {
		return writeCoreError(c, err)
	}
	return c.JSON(http.StatusOK, statusFromTrace(trace))
}

// cancelMissionHandler handles POST /api/mission/:traceId/cancel.
func (s *Server) cancelMissionHandler(c *echo.Context) error {
	traceID, err := parseTraceID(c)
	if err != nil {
		return validationError(c, err.Error())
	}

	if err := s.engine.Cancel(traceID); err != nil {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error: "mission is not in a cancellable state", Code: codeValidation,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"traceId": traceID,
		"message": "cancellation requested",
	})
}

// listTracesHandler handles GET /api/traces?limit=&offset=.
func (s *Server) listTracesHandler(c *echo.Context) error {
	limit := 50
	offset := 0

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > store.MaxListLimit {
			return validationError(c, fmt.Sprintf("limit must be an integer in [1, %d]", store.MaxListLimit))
		}
		limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return validationError(c, "offset must be a non-negative integer")
		}
		offset = n
	}

	result, err := s.traces.List(limit, offset)
	if err != nil {
		return writeCoreError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// activeSwarmsHandler handles GET /api/swarms/active.
func (s *Server) activeSwarmsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.ActiveSwarms())
}

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(c *echo.Context) error {
	status := "healthy"
	if s.traces.MemoryOnly() {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   config.Version(),
	})
}

// parseTraceID validates the :traceId path parameter as a UUID. A malformed
// id is a 400, never a 404.
func parseTraceID(c *echo.Context) (string, error) {
	raw := c.Param("traceId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("traceId must be a UUID")
	}
	return id.String(), nil
}

// statusFromTrace builds the degenerate SwarmStatus view of a settled
// trace for clients that ask after eviction.
func statusFromTrace(t *models.Trace) *models.SwarmStatus {
	state := models.SwarmStateRunning
	progress := 0
	switch t.Status {
	case models.TraceStatusCompleted:
		state = models.SwarmStateCompleted
		progress = 100
	case models.TraceStatusFailed:
		state = models.SwarmStateFailed
		progress = 100
	case models.TraceStatusPending:
		state = models.SwarmStatePending
	}

	return &models.SwarmStatus{
		TraceID:          t.TraceID,
		Status:           state,
		Agents:           []models.SwarmAgent{},
		CurrentIteration: len(t.Iterations),
		Progress:         progress,
		Message:          t.Error,
	}
}
