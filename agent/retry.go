package main

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type retrier struct {
	initial     time.Duration
	max         time.Duration
	maxAttempts int
}

func newRetrier(initialMs, maxMs, maxAttempts int) *retrier {
	if initialMs <= 0 {
		initialMs = 500
	}
	if maxMs < initialMs {
		maxMs = initialMs
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &retrier{
		initial:     time.Duration(initialMs) * time.Millisecond,
		max:         time.Duration(maxMs) * time.Millisecond,
		maxAttempts: maxAttempts,
	}
}

// do runs fn until it succeeds, the error stops being retryable, or the
// attempt budget runs out.
func (r *retrier) do(fn func() error) error {
	var attempt int
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= r.maxAttempts || !isRetryable(err) {
			return err
		}
		delay := backoffWithJitter(r.initial, r.max, attempt)
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("sleep", delay).Msg("retrying request")
		time.Sleep(delay)
		attempt++
	}
}

// backoffWithJitter doubles the delay per attempt up to max, then picks a
// random point in the upper half so synchronized clients spread out.
func backoffWithJitter(initial, max time.Duration, attempt int) time.Duration {
	b := float64(initial) * math.Pow(2, float64(attempt))
	if b > float64(max) {
		b = float64(max)
	}
	half := b / 2
	return time.Duration(half + rand.Float64()*half)
}

// isRetryable treats network errors and 5xx/429 responses as transient.
// Protocol-level refusals (conflicts, not-found) are never retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr transientStatusError
	return errors.As(err, &statusErr)
}

type transientStatusError struct {
	status int
}

func (e transientStatusError) Error() string {
	return http.StatusText(e.status)
}

func transientStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}
