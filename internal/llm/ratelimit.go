package llm

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped generator.
type RateLimited struct {
	next    TextGenerator
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
// A non-positive rate disables limiting.
func NewRateLimited(next TextGenerator, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Model() string { return r.next.Model() }

func (r *RateLimited) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}
		// The next token lies past the caller's deadline: throttled, not failed.
		return "", &ProviderError{StatusCode: http.StatusTooManyRequests, Err: fmt.Errorf("rate limiter error: %w", err)}
	}
	return r.next.Stream(ctx, req, onDelta)
}
