package locks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet_ledger/internal/faults"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(time.Second)

	release, err := m.Acquire(AircraftKey("a1"), ComponentKey("c1"))
	require.NoError(t, err)
	assert.Equal(t, 2, m.held())

	release()
	release() // idempotent
	assert.Equal(t, 0, m.held())
}

func TestAcquireTimeoutIsConflict(t *testing.T) {
	m := NewManager(50 * time.Millisecond)

	release, err := m.Acquire(AircraftKey("a1"))
	require.NoError(t, err)
	defer release()

	_, err = m.Acquire(ComponentKey("c9"), AircraftKey("a1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrConflict)

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "aircraft", fe.Entity)
	assert.Equal(t, "a1", fe.ID)

	// c9 sorts after a1 and is never taken; only the first holder remains.
	assert.Equal(t, 1, m.held())
}

func TestUnrelatedKeysRunInParallel(t *testing.T) {
	m := NewManager(time.Second)

	releaseA, err := m.Acquire(AircraftKey("a1"))
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := m.Acquire(AircraftKey("a2"))
	require.NoError(t, err)
	releaseB()
}

func TestMutualExclusion(t *testing.T) {
	m := NewManager(5 * time.Second)

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(AircraftKey("a1"), ComponentKey("c1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, m.held())
}
