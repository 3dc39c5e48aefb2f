package sim

import (
	"errors"
	"sync"
)

var errDivergentBarrier = errors.New("barrier reached by only part of the block")

// barrierBroken is the panic value a thread unwinds with when its block's
// barrier has been broken by a fault in another thread.
type barrierBroken struct {
	cause error
}

// Barrier is a reusable barrier for a fixed number of parties.
//
// Each Wait belongs to a generation; the last arrival of a generation
// releases every waiter of that generation and opens the next one, so the
// same Barrier serves every SyncThreads call of a block.
//
// A party that finishes (Exit) while others wait, or that waits after
// another party finished, breaks the barrier instead of deadlocking the
// block.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	exited  int
	gen     uint64
	broken  error
}

// NewBarrier returns a barrier for parties participants.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until every party has called Wait for the current generation.
// It panics with barrierBroken if the barrier is or becomes broken before
// the generation completes.
func (b *Barrier) Wait() {
	b.mu.Lock()
	if b.broken == nil && b.exited > 0 {
		b.breakLocked(errDivergentBarrier)
	}
	if b.broken != nil {
		cause := b.broken
		b.mu.Unlock()
		panic(barrierBroken{cause})
	}

	gen := b.gen
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}

	for gen == b.gen && b.broken == nil {
		b.cond.Wait()
	}
	released := gen != b.gen
	cause := b.broken
	b.mu.Unlock()

	if !released {
		panic(barrierBroken{cause})
	}
}

// Exit records that a party has finished and will not wait again.
func (b *Barrier) Exit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.exited++
	if b.arrived > 0 && b.broken == nil {
		b.breakLocked(errDivergentBarrier)
	}
}

// Break releases every waiter with cause. Later Waits panic immediately.
func (b *Barrier) Break(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken == nil {
		b.breakLocked(cause)
	}
}

func (b *Barrier) breakLocked(cause error) {
	b.broken = cause
	b.cond.Broadcast()
}

// Err returns the cause the barrier was broken with, if any.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
