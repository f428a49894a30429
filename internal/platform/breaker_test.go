package platform

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(2, 10*time.Second)
	b.now = func() time.Time { return now }

	gt.True(t, b.TryAcquire())
	b.OnFailure()
	gt.Equal(t, b.State(), "closed")
	b.OnFailure()
	gt.Equal(t, b.State(), "open")
	gt.False(t, b.TryAcquire())

	now = now.Add(11 * time.Second)
	gt.True(t, b.TryAcquire())
	gt.Equal(t, b.State(), "half-open")
	// only one probe at a time
	gt.False(t, b.TryAcquire())

	b.OnSuccess()
	gt.Equal(t, b.State(), "closed")
	gt.True(t, b.TryAcquire())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(2 * time.Second)
	gt.True(t, b.TryAcquire())
	b.OnFailure()
	gt.Equal(t, b.State(), "open")
	gt.False(t, b.TryAcquire())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker(2, time.Second)
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	gt.Equal(t, b.State(), "closed")
}
