// Package base provides the resilience pipeline and error classification
// shared by every concrete exchange adapter (§4.1, §7): a failsafe-go
// retry+circuit-breaker pipeline wraps every venue call, and a single
// ClassifyError function centralizes the rate-limit-cooldown /
// transient-swallow / order-not-found-is-success policy so each adapter
// only has to supply its own wire-level error parsing.
package base

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

// rateLimitCooldown is the mandatory pause after a rate-limit/weight-ban
// signature before further calls are attempted (§4.1, §7).
const rateLimitCooldown = 120 * time.Second

// Adapter holds the pieces common to every venue adapter: a logger, a
// client-side pacer ahead of the venue's own limits, and the resilience
// pipeline around each call.
type Adapter struct {
	Name    string
	Logger  core.Logger
	Limiter *rate.Limiter

	pipeline failsafe.Executor[any]
}

// NewAdapter builds the shared pipeline: a retry policy for transient
// errors, composed with a circuit breaker that opens for rateLimitCooldown
// whenever a call is classified as rate-limited.
func NewAdapter(name string, logger core.Logger, requestsPerSecond float64) *Adapter {
	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return ClassifyError(err) == ErrorTransient
		}).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return ClassifyError(err) == ErrorRateLimited
		}).
		WithFailureThreshold(1).
		WithDelay(rateLimitCooldown).
		Build()

	return &Adapter{
		Name:     name,
		Logger:   logger.WithField("exchange", name),
		Limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		pipeline: failsafe.With[any](retryPolicy, breaker),
	}
}

// Execute runs fn through the rate limiter and the resilience pipeline.
// Callers type-assert the returned value to the concrete result type.
func (a *Adapter) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := a.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := a.pipeline.GetWithExecution(func(_ failsafe.Execution[any]) (any, error) {
		return fn()
	})

	switch ClassifyError(err) {
	case ErrorTransient:
		a.Logger.Warn("transient venue error swallowed", "error", err)
		return result, nil
	case ErrorOrderNotFound:
		return result, nil
	case ErrorRateLimited:
		a.Logger.Error("rate limit hit, cooling down", "cooldown", rateLimitCooldown, "error", err)
	}
	return result, err
}

// ErrorClass is the taxonomy used to route an adapter error (§7).
type ErrorClass int

const (
	ErrorOther ErrorClass = iota
	ErrorTransient
	ErrorRateLimited
	ErrorInsufficientFunds
	ErrorOrderNotFound
)

// ClassifyError maps a raw adapter error onto the taxonomy. It is grounded
// on the original exchange adapter's substring-based classification of
// venue error strings (HTTP body text, connection resets, weight-ban
// codes) translated to Go's typed-error idiom where the adapter already
// produced a sentinel from pkg/errors.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorOther
	}

	switch {
	case isAny(err, apperrors.ErrRateLimitExceeded):
		return ErrorRateLimited
	case isAny(err, apperrors.ErrInsufficientFunds):
		return ErrorInsufficientFunds
	case isAny(err, apperrors.ErrOrderNotFound):
		return ErrorOrderNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "418"), strings.Contains(msg, "too much request weight"), strings.Contains(msg, "-1003"):
		return ErrorRateLimited
	case strings.Contains(msg, "order does not exist"), strings.Contains(msg, "unknown order"):
		return ErrorOrderNotFound
	case strings.Contains(msg, "content-length"), strings.Contains(msg, "invalid character"), strings.Contains(msg, "eof"), strings.Contains(msg, "connection reset"):
		return ErrorTransient
	}
	return ErrorOther
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
