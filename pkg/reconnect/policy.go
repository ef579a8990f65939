// Package reconnect computes backoff delays for a dropped connection.
package reconnect

import (
	"errors"
	"math"
	"time"
)

// Policy is an exponential backoff without jitter. The zero MaxDelay means no cap.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay. Zero leaves it unbounded.
	MaxDelay time.Duration

	// MaxAttempts is the number of retries before giving up.
	MaxAttempts int
}

// Default returns the 1s, 2s, 4s, 8s, 16s policy.
func Default() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxAttempts: 5,
	}
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if p.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	if p.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	return nil
}

// Delay returns min(MaxDelay, BaseDelay * 2^attempt)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	limit := time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		limit = p.MaxDelay
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}

	return min(d, limit)
}

// Exhausted reports whether no retry should follow attempt
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
