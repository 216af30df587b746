package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := New("cache", 2, 5*time.Second)
	b.SetClock(func() time.Time { return now })

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(5 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe while half-open")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(6 * time.Second)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	snap := b.Snapshot()
	assert.Equal(t, int64(2), snap.Trips)
	assert.Zero(t, snap.Failures)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := New("cache", 2, time.Second)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}
