package queue

import (
	"errors"
	"time"
)

// RetryPolicy bounds how often a failed job is re-attempted and how long each
// attempt waits. Intervals[i] is the delay before retry i+1; when MaxRetries
// exceeds the table, the last interval repeats.
type RetryPolicy struct {
	MaxRetries int
	Intervals  []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Intervals:  []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second},
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if p.MaxRetries > 0 && len(p.Intervals) == 0 {
		return errors.New("retry intervals must not be empty")
	}
	for _, d := range p.Intervals {
		if d < 0 {
			return errors.New("retry intervals must be >= 0")
		}
	}
	return nil
}

// Next returns the delay before the next attempt of a job that has already
// been retried `retries` times, or false once the budget is spent.
func (p RetryPolicy) Next(retries int) (time.Duration, bool) {
	if retries < 0 {
		retries = 0
	}
	if retries >= p.MaxRetries || len(p.Intervals) == 0 {
		return 0, false
	}
	if retries >= len(p.Intervals) {
		return p.Intervals[len(p.Intervals)-1], true
	}
	return p.Intervals[retries], true
}
