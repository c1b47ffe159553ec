package retry

import (
	"context"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  5,
	InitialDelay: 300 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// FromEnv reads retry tuning from RETRY_* env vars, falling back to Default.
// - RETRY_MAX_ATTEMPTS  : int > 0
// - RETRY_INITIAL_DELAY : Go duration (e.g. 300ms)
// - RETRY_MAX_DELAY     : Go duration
// - RETRY_MULTIPLIER    : float > 0
// - RETRY_JITTER        : bool
func FromEnv() Options {
	o := Default
	if v, ok := lookup("RETRY_MAX_ATTEMPTS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.MaxAttempts = n
		}
	}
	if v, ok := lookup("RETRY_INITIAL_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			o.InitialDelay = d
		}
	}
	if v, ok := lookup("RETRY_MAX_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			o.MaxDelay = d
		}
	}
	if v, ok := lookup("RETRY_MULTIPLIER"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			o.Multiplier = f
		}
	}
	if v, ok := lookup("RETRY_JITTER"); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			o.Jitter = true
		case "0", "false", "no", "n", "off":
			o.Jitter = false
		}
	}
	return o
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

type IsRetryableFunc func(error) bool

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts = Default
	}
	attempt := 0
	backoff := opts.InitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// Stop if not retryable or attempts exhausted.
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}

		// Compute sleep with optional jitter.
		sleep := backoff
		if opts.Jitter {
			// +/-20% jitter.
			delta := float64(backoff) * 0.2
			j := (rng.Float64()*2 - 1) * delta
			sleep = time.Duration(math.Max(0, float64(backoff)+j))
		}
		// Cap delay.
		if sleep > opts.MaxDelay {
			sleep = opts.MaxDelay
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Next backoff with overflow guard and cap.
		next := time.Duration(float64(backoff) * opts.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = next
		if backoff > opts.MaxDelay {
			backoff = opts.MaxDelay
		}
	}
}
