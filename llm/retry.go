package llm

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy controls retries of failed provider requests. Zero fields take
// the defaults from DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelayMs is the delay before the second attempt; it doubles on
	// every further attempt up to MaxDelayMs.
	BaseDelayMs int `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms" yaml:"max_delay_ms"`

	// RateLimitDelayMs is the minimum wait after a 429 response when the
	// server sends no usable Retry-After header.
	RateLimitDelayMs int `json:"rate_limit_delay_ms" yaml:"rate_limit_delay_ms"`
}

// DefaultRetryPolicy returns the policy used for zero-valued fields.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      4,
		BaseDelayMs:      1000,
		MaxDelayMs:       30000,
		RateLimitDelayMs: 5000,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelayMs <= 0 {
		p.BaseDelayMs = d.BaseDelayMs
	}
	if p.MaxDelayMs <= 0 {
		p.MaxDelayMs = d.MaxDelayMs
	}
	if p.RateLimitDelayMs <= 0 {
		p.RateLimitDelayMs = d.RateLimitDelayMs
	}
	return p
}

// backoff returns the wait before the given attempt (attempt >= 1).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := time.Duration(p.BaseDelayMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= time.Duration(p.MaxDelayMs)*time.Millisecond {
			break
		}
	}
	return min(delay, time.Duration(p.MaxDelayMs)*time.Millisecond)
}

// rateLimitWait returns the wait after a 429, honouring Retry-After.
func (p RetryPolicy) rateLimitWait(attempt int, header http.Header) time.Duration {
	wait := max(p.backoff(attempt), time.Duration(p.RateLimitDelayMs)*time.Millisecond)
	if ra := header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			wait = max(wait, time.Duration(seconds)*time.Second)
		}
	}
	return min(wait, time.Duration(p.MaxDelayMs)*time.Millisecond)
}

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// newLimiter returns nil when rps is not positive.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
