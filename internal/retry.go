package internal

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/dataverse"
)

// BackoffPolicy decides whether and how long to wait before re-issuing a
// failed request. It retries network-level failures and transient HTTP
// statuses with capped exponential backoff, honoring Retry-After.
type BackoffPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxBackoff     time.Duration
	Jitter         bool
	RetryTransient bool

	// randFloat is swapped in tests for deterministic jitter.
	randFloat func() float64
}

// NewBackoffPolicy builds the transport retry policy from config.
func NewBackoffPolicy(cfg dataverse.HTTPConfig) *BackoffPolicy {
	return &BackoffPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxBackoff:     cfg.MaxBackoff,
		Jitter:         cfg.Jitter,
		RetryTransient: true,
		randFloat:      rand.Float64,
	}
}

// NextDelay reports the pause before retrying attempt (zero-based) and
// whether a retry should happen at all. status 0 means the request failed
// below HTTP (connection reset, timeout); any such failure is retryable.
// retryAfter is the raw Retry-After header value, empty when absent.
func (p *BackoffPolicy) NextDelay(attempt, status int, retryAfter string) (time.Duration, bool) {
	if attempt >= p.MaxAttempts-1 {
		return 0, false
	}
	if status != 0 && (!p.RetryTransient || !dataverse.IsTransientStatus(status)) {
		return 0, false
	}

	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxBackoff || delay <= 0 {
		delay = p.MaxBackoff
	}

	// A parseable Retry-After overrides the schedule, still capped.
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
			delay = time.Duration(secs) * time.Second
			if delay > p.MaxBackoff {
				delay = p.MaxBackoff
			}
			return delay, true
		}
	}

	if p.Jitter {
		rf := p.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		// spread the delay by up to ±25% to avoid retry stampedes
		delay += time.Duration((rf()*0.5 - 0.25) * float64(delay))
		if delay < 0 {
			delay = 0
		}
	}
	return delay, true
}

// MetadataRetryPolicy retries 404 responses from metadata endpoints on a
// short fixed schedule. A 404 on a record endpoint means the record does
// not exist; a 404 on the metadata of a just-created table usually means
// the definition has not propagated yet, so the two are retried by
// different policies.
type MetadataRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewMetadataRetryPolicy builds the metadata retry policy from config.
func NewMetadataRetryPolicy(cfg dataverse.MetadataConfig) *MetadataRetryPolicy {
	return &MetadataRetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}
}

// NextDelay retries only 404s, doubling the base delay each attempt.
func (p *MetadataRetryPolicy) NextDelay(attempt, status int, retryAfter string) (time.Duration, bool) {
	if attempt >= p.MaxAttempts-1 || status != 404 {
		return 0, false
	}
	return p.BaseDelay << uint(attempt), true
}

// sleepCtx pauses for d or until ctx is done, reporting which happened.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
