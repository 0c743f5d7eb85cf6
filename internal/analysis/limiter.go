package analysis

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds in-flight remote calls and paces them to the provider's
// transactions-per-second quota. A nil *Limiter imposes no limits.
type Limiter struct {
	sem  *semaphore.Weighted
	pace *rate.Limiter
}

// NewLimiter builds a limiter. maxConcurrent <= 0 disables the concurrency
// bound; perSecond <= 0 disables pacing.
func NewLimiter(maxConcurrent int64, perSecond float64) *Limiter {
	l := &Limiter{}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(maxConcurrent)
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		l.pace = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

// Do runs fn once a concurrency slot and a rate token are available. Waiting
// is abandoned when ctx is done.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if l == nil {
		return fn()
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer l.sem.Release(1)
	}
	if l.pace != nil {
		if err := l.pace.Wait(ctx); err != nil {
			return err
		}
	}
	return fn()
}
