package worker

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff strategies
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Backoff computes the redelivery delay after a failed attempt
type Backoff struct {
	Strategy   string
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait before attempt number attempt+1. attempt counts
// failed runs so far and starts at 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Strategy != BackoffExponential || attempt <= 1 {
		return b.Base
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.RandomizationFactor = 0
	eb.Multiplier = b.Multiplier
	eb.MaxElapsedTime = 0
	eb.MaxInterval = time.Duration(math.MaxInt64)
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	eb.Reset()

	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}
