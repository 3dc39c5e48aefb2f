package sim

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarrierReuse(t *testing.T) {
	const parties, rounds = 8, 50

	b := NewBarrier(parties)
	var arrived atomic.Int64
	var wg sync.WaitGroup
	errs := make(chan string, parties*rounds)

	for p := 0; p < parties; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				arrived.Add(1)
				b.Wait()
				if got := arrived.Load(); got < int64((r+1)*parties) {
					errs <- "released before every party arrived"
				}
			}
			b.Exit()
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	assert.Equal(t, int64(parties*rounds), arrived.Load())
	assert.NoError(t, b.Err())
}

// waitRecovering calls Wait and returns the barrierBroken cause, if any.
func waitRecovering(b *Barrier) (cause error, broken bool) {
	defer func() {
		if r := recover(); r != nil {
			bb, ok := r.(barrierBroken)
			if !ok {
				panic(r)
			}
			cause, broken = bb.cause, true
		}
	}()
	b.Wait()
	return nil, false
}

func TestBarrierBreakReleasesWaiters(t *testing.T) {
	b := NewBarrier(3)
	boom := errors.New("boom")

	type result struct {
		cause  error
		broken bool
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, ok := waitRecovering(b)
			results <- result{c, ok}
		}()
	}

	// Break while (or before) both waiters block; either way they unwind.
	b.Break(boom)
	for i := 0; i < 2; i++ {
		r := <-results
		assert.True(t, r.broken)
		assert.ErrorIs(t, r.cause, boom)
	}

	_, broken := waitRecovering(b)
	assert.True(t, broken, "waits after a break must fail immediately")
	assert.ErrorIs(t, b.Err(), boom)
}

func TestBarrierExitWhileOthersWait(t *testing.T) {
	b := NewBarrier(2)

	done := make(chan error, 1)
	go func() {
		c, _ := waitRecovering(b)
		done <- c
	}()

	// Exit either finds the waiter and breaks, or the waiter finds the exit.
	b.Exit()
	assert.ErrorIs(t, <-done, errDivergentBarrier)
	assert.ErrorIs(t, b.Err(), errDivergentBarrier)
}

func TestBarrierExitAfterCompletionIsClean(t *testing.T) {
	b := NewBarrier(2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Wait()
			b.Wait()
			b.Exit()
		}()
	}
	wg.Wait()
	assert.NoError(t, b.Err())
}
