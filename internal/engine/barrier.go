package engine

import "sync"

// Barrier names. Workers and the exchange goroutine of one node meet at
// these three points and nowhere else.
const (
	barrierSwap     = "swap"
	barrierExchange = "exchange"
	barrierEndCycle = "endCycle"
)

// barrier is a reusable cyclic barrier. The last party to arrive runs the
// action while the others are still blocked, so the action sees a quiescent
// node and everything it writes is visible to every party after release.
type barrier struct {
	name    string
	parties int
	action  func()

	mu    sync.Mutex
	cond  *sync.Cond
	count int
	gen   uint64
}

func newBarrier(name string, parties int, action func()) *barrier {
	b := &barrier{name: name, parties: parties, action: action}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties have arrived.
func (b *barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.count++
	if b.count == b.parties {
		if b.action != nil {
			b.action()
		}
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
