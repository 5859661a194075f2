package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/store"
	"github.com/warrenet/nebula/pkg/swarm"
)

// writeCoreError maps core-layer errors to the uniform HTTP error body.
func writeCoreError(c *echo.Context, err error) error {
	var budgetErr *swarm.BudgetExceededError
	if errors.As(err, &budgetErr) {
		return c.JSON(http.StatusPaymentRequired, ErrorResponse{
			Error: budgetErr.Error(), Code: codeBudgetExceeded,
		})
	}
	if errors.Is(err, swarm.ErrSafetyBlocked) {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error: "Mission blocked by safety system", Code: codeSafetyBlocked,
		})
	}

	var rateErr *llm.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := int(rateErr.RetryAfter.Seconds())
		resp := ErrorResponse{
			Error: "upstream rate limit exceeded", Code: codeRateLimited,
		}
		if retryAfter > 0 {
			resp.RetryAfter = retryAfter
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		return c.JSON(http.StatusTooManyRequests, resp)
	}

	var upstreamErr *llm.UpstreamError
	if errors.As(err, &upstreamErr) {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "upstream completion service failed", Code: codeUpstreamFailed,
		})
	}

	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "trace not found", Code: codeNotFound,
		})
	}

	// Unexpected error: log it, return an opaque 500.
	slog.Error("Unexpected core error", "error", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: "internal server error", Code: codeInternal,
	})
}

// validationError writes a 400 with the VALIDATION_ERROR code.
func validationError(c *echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: message, Code: codeValidation,
	})
}
