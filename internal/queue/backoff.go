package queue

import "time"

// BackoffKind selects how the delay grows between attempts.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// BackoffPolicy maps a retry number to the delay before that retry.
type BackoffPolicy struct {
	Kind BackoffKind   `json:"kind"`
	Base time.Duration `json:"base"`
	// Max caps the delay; zero means uncapped.
	Max time.Duration `json:"max,omitempty"`
}

// Delay returns the wait before the retry-th retry (1-based): Base for the
// first retry, then doubling for exponential policies, capped at Max.
func (p BackoffPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := p.Base
	if p.Kind != BackoffFixed {
		for i := 1; i < retry; i++ {
			if p.Max > 0 && d >= p.Max {
				break
			}
			next := d * 2
			if next <= d { // overflow
				break
			}
			d = next
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
