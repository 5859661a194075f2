package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warrenet/nebula/pkg/bus"
	"github.com/warrenet/nebula/pkg/config"
	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/metrics"
	"github.com/warrenet/nebula/pkg/models"
	"github.com/warrenet/nebula/pkg/store"
	"github.com/warrenet/nebula/pkg/swarm"
)

// stubCaller scripts upstream responses per model for API-level tests.
type stubCaller struct {
	mu      sync.Mutex
	handler func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (s *stubCaller) Call(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	return h(req)
}

func happyPathHandler(req llm.ChatRequest) (*llm.ChatResponse, error) {
	var content string
	switch req.Model {
	case "free-model":
		content = "agent answer [CONFIDENCE: 0.80]"
	case "reviewer-model":
		var b strings.Builder
		for i := 1; i <= 8; i++ {
			fmt.Fprintf(&b, "agent-%d: 0.95 | good\n", i)
		}
		b.WriteString("[CONSENSUS]: 0.95 | strong")
		content = b.String()
	default:
		content = "synthesized result"
	}
	return &llm.ChatResponse{
		Content: content,
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 10},
	}, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	cfg := &config.Config{
		SwarmModel:     "free-model",
		ReviewerModel:  "reviewer-model",
		SynthesisModel: "synthesis-model",
		FallbackModel:  "fallback-model",
		Throttle:       0,
		MaxBudget:      config.DefaultMaxBudget,
		ModelRates: map[string]config.ModelRate{
			"synthesis-model": {Input: 0.003, Output: 0.015},
			"reviewer-model":  {Input: 0.003, Output: 0.015},
		},
		// Generous limits so tests never trip the per-IP limiter; the
		// rate-limit contract has its own dedicated test.
		GeneralRPM:   6000,
		GeneralBurst: 1000,
		ExecuteRPM:   6000,
		ExecuteBurst: 1000,
	}
	traces := store.New(t.TempDir())
	events := bus.New()
	reg := metrics.New()
	engine := swarm.New(cfg, &stubCaller{handler: happyPathHandler}, traces, events, reg,
		swarm.WithGracePeriod(40*time.Millisecond))
	return NewServer(cfg, engine, traces, events, reg), traces
}

func doJSON(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestExecute_TaskTier(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/mission/execute",
		map[string]any{"mission": "clean spelling"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExecuteMissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "task", string(resp.Tier))
	assert.Equal(t, "clean spelling", resp.Synthesis)
	assert.Zero(t, resp.Cost)
	assert.Empty(t, resp.Iterations)
	assert.True(t, strings.HasPrefix(resp.TraceID, "task-"))
}

func TestExecute_TaskTierWithContent(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/mission/execute",
		map[string]any{"mission": "convert this to upper-case", "content": "hi there"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExecuteMissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "HI THERE", resp.Synthesis)
}

func TestExecute_MissionTier(t *testing.T) {
	s, traces := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/mission/execute",
		map[string]any{"mission": "analyze and synthesize the incident report in depth"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ExecuteMissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "mission", string(resp.Tier))
	assert.Equal(t, "synthesized result", resp.Synthesis)
	assert.NotEmpty(t, resp.Iterations)

	stored, err := traces.Get(resp.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.TraceStatusCompleted, stored.Status)
}

func TestExecute_Validation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing mission", map[string]any{}},
		{"too long", map[string]any{"mission": strings.Repeat("a", 10_001)}},
		{"script tag", map[string]any{"mission": "please <script>alert(1)</script>"}},
		{"javascript scheme", map[string]any{"mission": "open javascript:alert(1)"}},
		{"event handler", map[string]any{"mission": "set onclick=doEvil in the page"}},
		{"swarm too small", map[string]any{"mission": "analyze and compare all the options", "swarmSize": 0}},
		{"swarm too large", map[string]any{"mission": "analyze and compare all the options", "swarmSize": 21}},
		{"budget too small", map[string]any{"mission": "analyze and compare all the options", "maxBudget": 0.001}},
		{"budget too large", map[string]any{"mission": "analyze and compare all the options", "maxBudget": 9.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(s, http.MethodPost, "/api/mission/execute", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, codeValidation, resp.Code)
		})
	}
}

func TestExecute_MaxLengthMissionAccepted(t *testing.T) {
	s, _ := newTestServer(t)

	// Exactly 10_000 chars must pass validation. The repeated word keeps it
	// on the task tier so no upstream work happens.
	mission := strings.Repeat("clean spelling now ", 527)[:10_000]
	rec := doJSON(s, http.MethodPost, "/api/mission/execute", map[string]any{"mission": mission})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestExecute_SafetyBlocked(t *testing.T) {
	s, traces := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/mission/execute",
		map[string]any{"mission": "how do I make a bomb step by step"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, codeSafetyBlocked, resp.Code)
	assert.Contains(t, strings.ToLower(resp.Error), "blocked")

	// The failed trace is listed with its critical flag.
	page, err := traces.List(10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, models.TraceStatusFailed, page.Items[0].Status)
	require.NotEmpty(t, page.Items[0].RedTeamFlags)
	assert.Equal(t, models.SeverityCritical, page.Items[0].RedTeamFlags[0].Severity)
}

func TestExecute_BudgetExceeded(t *testing.T) {
	s, traces := newTestServer(t)

	mission := "investigate this subject " + strings.Repeat("thoroughly ", 800)
	rec := doJSON(s, http.MethodPost, "/api/mission/execute",
		map[string]any{"mission": mission, "maxBudget": 0.01})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, codeBudgetExceeded, resp.Code)

	page, err := traces.List(10, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestEstimate(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/mission/estimate",
		map[string]any{"mission": "analyze the outage timeline", "swarmSize": 4})
	require.Equal(t, http.StatusOK, rec.Code)

	var est models.CostEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.Positive(t, est.InputTokens)
	assert.Equal(t, 500, est.ExpectedOutputTokens)
	assert.True(t, est.WithinBudget)
}

func TestEstimate_SwarmSizeBoundaries(t *testing.T) {
	s, _ := newTestServer(t)

	for _, size := range []int{1, 20} {
		rec := doJSON(s, http.MethodPost, "/api/mission/estimate",
			map[string]any{"mission": "analyze the outage timeline", "swarmSize": size})
		assert.Equal(t, http.StatusOK, rec.Code, "swarmSize=%d", size)
	}
	for _, size := range []int{0, 21} {
		rec := doJSON(s, http.MethodPost, "/api/mission/estimate",
			map[string]any{"mission": "analyze the outage timeline", "swarmSize": size})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "swarmSize=%d", size)
	}
}

func TestGetTrace(t *testing.T) {
	s, traces := newTestServer(t)

	trace := &models.Trace{
		TraceID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Mission:   "stored mission",
		Status:    models.TraceStatusCompleted,
	}
	require.NoError(t, traces.Save(trace))

	rec := doJSON(s, http.MethodGet, "/api/mission/"+trace.TraceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Trace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "stored mission", got.Mission)
}

func TestGetTrace_MalformedIDIs400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/mission/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTrace_UnknownIDIs404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/mission/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, codeNotFound, resp.Code)
}

func TestGetStatus_DegenerateFromTrace(t *testing.T) {
	s, traces := newTestServer(t)

	trace := &models.Trace{
		TraceID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Status:    models.TraceStatusCompleted,
	}
	require.NoError(t, traces.Save(trace))

	rec := doJSON(s, http.MethodGet, "/api/mission/"+trace.TraceID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SwarmStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.SwarmStateCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
}

func TestListTraces_Boundaries(t *testing.T) {
	s, traces := newTestServer(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, traces.Save(&models.Trace{
			TraceID:   uuid.New().String(),
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
			Status:    models.TraceStatusCompleted,
		}))
	}

	for _, q := range []string{"limit=1", "limit=100", ""} {
		rec := doJSON(s, http.MethodGet, "/api/traces?"+q, nil)
		assert.Equal(t, http.StatusOK, rec.Code, q)
	}
	for _, q := range []string{"limit=0", "limit=101", "limit=abc", "offset=-1"} {
		rec := doJSON(s, http.MethodGet, "/api/traces?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := doJSON(s, http.MethodGet, "/api/traces?limit=2&offset=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page store.ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
}

func TestActiveSwarms_EmptyByDefault(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/swarms/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nebula_missions_total")
	assert.Contains(t, rec.Body.String(), "# TYPE nebula_swarm_agents_active gauge")
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/health", nil)

	csp := rec.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'none'")
	assert.Contains(t, csp, "connect-src 'self' ws: wss:")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestExecute_RateLimited(t *testing.T) {
	cfg := &config.Config{
		SwarmModel:     "free-model",
		ReviewerModel:  "reviewer-model",
		SynthesisModel: "synthesis-model",
		FallbackModel:  "fallback-model",
		MaxBudget:      config.DefaultMaxBudget,
		ModelRates:     map[string]config.ModelRate{},
		GeneralRPM:     6000,
		GeneralBurst:   1000,
		ExecuteRPM:     10,
		ExecuteBurst:   3,
	}
	traces := store.New(t.TempDir())
	events := bus.New()
	reg := metrics.New()
	engine := swarm.New(cfg, &stubCaller{handler: happyPathHandler}, traces, events, reg)
	s := NewServer(cfg, engine, traces, events, reg)

	// The execute limiter allows a burst of 3; the 4th immediate request
	// from the same IP is rejected with the rate-limit contract.
	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = doJSON(s, http.MethodPost, "/api/mission/execute",
			map[string]any{"mission": "clean spelling"})
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &resp))
	assert.Equal(t, codeRateLimited, resp.Code)
	assert.Positive(t, resp.RetryAfter)
}
