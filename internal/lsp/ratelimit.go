package lsp

import (
	"context"

	"golang.org/x/time/rate"
)

// lifecycleMethods are exempt from rate limiting: they are not part of the
// steady-state request volume a server needs throttled and must always be
// allowed through (initialize, shutdown, exit, and notifications in general
// are filtered separately by the caller).
var lifecycleMethods = map[string]bool{
	"initialize":  true,
	"initialized": true,
	"shutdown":    true,
	"exit":        true,
}

// RateLimiter throttles outgoing requests to a language server, skipping
// lifecycle methods and notifications so startup/shutdown is never delayed
// by a budget meant for steady-state request traffic.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter allowing ratePerSec requests per second
// with the given burst. A ratePerSec of zero disables limiting.
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until method is permitted to proceed. Lifecycle methods and
// notifications (isNotification true) always pass immediately.
func (r *RateLimiter) Wait(ctx context.Context, method string, isNotification bool) error {
	if r == nil || r.limiter == nil || isNotification || lifecycleMethods[method] {
		return nil
	}
	return r.limiter.Wait(ctx)
}
