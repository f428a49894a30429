// Package delay picks randomized pauses between outbound sends.
package delay

import (
	"math/rand/v2"
	"time"
)

// Next returns a uniformly distributed integer in [min, max], both inclusive.
// The result is undefined when min > max; callers validate bounds first.
func Next(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

// Between returns a uniformly distributed duration in [min, max].
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}
