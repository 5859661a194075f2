package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingAPIKey is returned by NewClient when no upstream credential is
// configured. The client fails fast rather than at first call.
var ErrMissingAPIKey = errors.New("upstream API key is not configured")

// RateLimitError is returned when the upstream kept answering 429 until the
// retry budget was exhausted.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the upstream sent no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limit exceeded (retry after %s)", e.RetryAfter)
	}
	return "upstream rate limit exceeded"
}

// UpstreamError is a non-retryable upstream failure or an exhausted retry
// sequence on 5xx/transport errors.
type UpstreamError struct {
	Status int    // 0 for transport-level failures
	Body   string // truncated upstream response body
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream request failed: %s", e.Body)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Status, e.Body)
}
