// Package classify turns raw errors from the agent subprocess, quality
// gates, and version-control calls into ralph's ClassifiedError taxonomy.
package classify

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"ralph/internal/model"
)

// HTTPStatusError is satisfied by errors that carry an HTTP status code,
// the boundary-level signal the agent runner and gate runner attach to
// errors returned from subprocess exit codes or API-shaped failures.
type HTTPStatusError interface {
	error
	StatusCode() int
}

// Classify maps a raw error to a ClassifiedError using the deterministic
// rule table from spec.md §4.A. It never returns nil for a non-nil input.
func Classify(err error) *model.ClassifiedError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(model.ReasonOperationDeadline, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return timeoutError(model.ReasonProcessTimeout, err)
		}
		return transientError(model.ReasonNetworkError, err, model.RecoveryHint{Kind: model.RetryNow})
	}

	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode(), statusErr)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "no such host", "connection refused", "connection reset", "dns", "tcp", "tls"):
		return transientError(model.ReasonNetworkError, err, model.RecoveryHint{Kind: model.RetryNow})
	case containsAny(msg, "quota exceeded", "quota_exhausted"):
		return usageLimitError(model.ReasonQuotaExhausted, err, model.RecoveryHint{Kind: model.WaitForUser})
	case containsAny(msg, "token limit", "context length", "too many tokens"):
		return usageLimitError(model.ReasonTokenLimitExceeded, err, model.RecoveryHint{Kind: model.WaitForUser})
	case containsAny(msg, "rate limit", "429"):
		return usageLimitError(model.ReasonRateLimited, err, model.RecoveryHint{Kind: model.RetryAfter, RetryDelay: (30 * time.Second).Milliseconds()})
	case containsAny(msg, "unauthorized", "authentication failed", "401"):
		return fatalError(model.ReasonAuthenticationFailed, err)
	case containsAny(msg, "forbidden", "permission denied", "403"):
		return fatalError(model.ReasonPermissionDenied, err)
	case containsAny(msg, "not found", "404"):
		return fatalError(model.ReasonResourceNotFound, err)
	case containsAny(msg, "bad request", "invalid request", "400"):
		return fatalError(model.ReasonInvalidRequest, err)
	case containsAny(msg, "deadline exceeded", "timed out", "timeout"):
		return timeoutError(model.ReasonOperationDeadline, err)
	case containsAny(msg, "service unavailable", "503"):
		return transientError(model.ReasonServiceUnavailable, err, model.RecoveryHint{Kind: model.RetryAfter, RetryDelay: (5 * time.Second).Milliseconds()})
	default:
		return transientError(model.ReasonServerError, err, model.RecoveryHint{Kind: model.RetryNow})
	}
}

func classifyStatus(code int, err error) *model.ClassifiedError {
	switch {
	case code == 503:
		return transientError(model.ReasonServiceUnavailable, err, model.RecoveryHint{Kind: model.RetryAfter, RetryDelay: (5 * time.Second).Milliseconds()})
	case code >= 500:
		return transientError(model.ReasonServerError, err, model.RecoveryHint{Kind: model.RetryNow})
	case code == 429:
		return usageLimitError(model.ReasonRateLimited, err, model.RecoveryHint{Kind: model.RetryAfter, RetryDelay: (30 * time.Second).Milliseconds()})
	case code == 401:
		return fatalError(model.ReasonAuthenticationFailed, err)
	case code == 403:
		return fatalError(model.ReasonPermissionDenied, err)
	case code == 404:
		return fatalError(model.ReasonResourceNotFound, err)
	case code >= 400:
		return fatalError(model.ReasonInvalidRequest, err)
	default:
		return transientError(model.ReasonServerError, err, model.RecoveryHint{Kind: model.RetryNow})
	}
}

// ClassifyExitCode classifies an agent or gate subprocess's exit code when
// no success marker and no richer error is available.
func ClassifyExitCode(code int) *model.ClassifiedError {
	if code == 0 {
		return nil
	}
	return fatalError(model.ReasonInvalidRequest, errors.New("process exited with code "+strconv.Itoa(code)))
}

func transientError(reason string, err error, hint model.RecoveryHint) *model.ClassifiedError {
	return &model.ClassifiedError{
		Category: model.ErrorCategory{Kind: model.CategoryTransient, Reason: reason},
		Message:  err.Error(),
		Hint:     hint,
	}
}

func usageLimitError(reason string, err error, hint model.RecoveryHint) *model.ClassifiedError {
	return &model.ClassifiedError{
		Category: model.ErrorCategory{Kind: model.CategoryUsageLimit, Reason: reason},
		Message:  err.Error(),
		Hint:     hint,
	}
}

func fatalError(reason string, err error) *model.ClassifiedError {
	return &model.ClassifiedError{
		Category: model.ErrorCategory{Kind: model.CategoryFatal, Reason: reason},
		Message:  err.Error(),
		Hint:     model.RecoveryHint{Kind: model.StopExecution},
	}
}

func timeoutError(reason string, err error) *model.ClassifiedError {
	return &model.ClassifiedError{
		Category: model.ErrorCategory{Kind: model.CategoryTimeout, Reason: reason},
		Message:  err.Error(),
		Hint:     model.RecoveryHint{Kind: model.RetryNow},
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
