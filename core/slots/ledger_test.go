package slots

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/yardfleet/core/model"
)

func TestAcquireFullYardIsRejected(t *testing.T) {
	y := &model.Yard{Name: "North", TotalSlots: 2, OccupiedSlots: 2}
	assert.False(t, HasAvailableSlot(y))
	assert.False(t, Acquire(y))
	assert.Equal(t, 2, y.OccupiedSlots)
}

func TestAcquireIncrementsByOne(t *testing.T) {
	y := &model.Yard{Name: "North", TotalSlots: 2}
	require.True(t, Acquire(y))
	assert.Equal(t, 1, y.OccupiedSlots)
	require.True(t, Acquire(y))
	assert.Equal(t, 2, y.OccupiedSlots)
	assert.False(t, Acquire(y))
}

func TestReleaseClampsAtZero(t *testing.T) {
	y := &model.Yard{Name: "North", TotalSlots: 2, OccupiedSlots: 1}
	assert.True(t, Release(y))
	assert.Equal(t, 0, y.OccupiedSlots)
	assert.False(t, Release(y))
	assert.Equal(t, 0, y.OccupiedSlots)
}

func TestInvariantHoldsUnderRandomSequence(t *testing.T) {
	y := &model.Yard{Name: "North", TotalSlots: 3}
	ops := []bool{true, true, false, true, true, true, false, false, false, false, true}
	for _, acquire := range ops {
		if acquire {
			Acquire(y)
		} else {
			Release(y)
		}
		require.GreaterOrEqual(t, y.OccupiedSlots, 0)
		require.LessOrEqual(t, y.OccupiedSlots, y.TotalSlots)
	}
}

func TestLockerSerializesSameKey(t *testing.T) {
	l := NewLocker()
	y := &model.Yard{Name: "North", TotalSlots: 5}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(YardKey(y.Name))
			defer unlock()
			if HasAvailableSlot(y) {
				// widen the check-then-act window
				time.Sleep(time.Millisecond)
				if Acquire(y) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, wins)
	assert.Equal(t, 5, y.OccupiedSlots)
}

func TestLockerOverlappingSetsDoNotDeadlock(t *testing.T) {
	l := NewLocker()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				l.Lock(YardKey("a"), YardKey("b"))()
			}()
			go func() {
				defer wg.Done()
				l.Lock(YardKey("b"), YardKey("a"), YardKey("b"))()
			}()
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock acquiring overlapping key sets")
	}
}
