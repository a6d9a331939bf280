package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns an exponential reconnect delay with jitter:
// base doubles per retry up to the cap, then up to 20% is added so
// concurrent clients do not reconnect in lockstep.
func CalculateBackoff(retry int) time.Duration {
	d := backoffBase
	for i := 0; i < retry && d < backoffMax; i++ {
		d *= 2
	}
	if d > backoffMax {
		d = backoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}
