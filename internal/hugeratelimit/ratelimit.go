// Package hugeratelimit provides a thin token-bucket wrapper used to
// bound request rates against remote stores.
package hugeratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter with the narrow
// surface hugestore implementations need.
type Limiter struct {
	inner *rate.Limiter
}

// New constructs a Limiter allowing ratePerSecond requests per
// second, with bursts up to burst requests.
func New(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Unlimited returns a Limiter that never blocks.
func Unlimited() *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Inf, 0)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.inner.Wait(ctx)
}
