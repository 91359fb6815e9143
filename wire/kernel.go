package wire

import (
	"runtime"
	"sync"
)

// clientState is the per-participant progress record: the last barrier
// epoch this participant has acknowledged, and whether it is currently
// blocked in Set waiting for its own event to be published.
type clientState struct {
	sequence uint64
	pending  bool
}

// Bus is the synchronisation kernel: a rendezvous object shared by every
// attached participant. One mutex protects all of its state (the two
// Lines, the event queue, the sequence counter, the client table and the
// publisher slot); two condition variables share that mutex.
//
// syncCondition is signalled whenever any client advances its sequence;
// the active publisher waits on it in the two-phase barrier. pending
// condition is broadcast whenever the publisher role is released, when a
// drained client is cleared of its pending flag, and on every epoch
// increment; would-be publishers wait on it while blocked behind an
// in-flight publish.
type Bus struct {
	mu            sync.Mutex
	syncCondition *sync.Cond
	pendingCond   *sync.Cond

	sda *line
	scl *line

	sequence uint64
	clients  map[Handle]*clientState
	queue    []transaction

	publishing bool
	publisher  Handle

	nextHandle uint64
}

// NewBus constructs an empty bus: both lines start released (High), no
// clients attached, sequence at zero.
func NewBus() *Bus {
	b := &Bus{
		sda:     newLine(),
		scl:     newLine(),
		clients: make(map[Handle]*clientState),
	}
	b.syncCondition = sync.NewCond(&b.mu)
	b.pendingCond = sync.NewCond(&b.mu)
	return b
}

// Attach issues a fresh handle and registers it as a client at the
// current sequence. This is the path Node uses; because the handle is
// kernel-issued it can never collide, so this call cannot fail.
func (b *Bus) Attach() Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		b.nextHandle++
		if _, taken := b.clients[Handle(b.nextHandle)]; !taken {
			break
		}
	}
	h := Handle(b.nextHandle)
	b.clients[h] = &clientState{sequence: b.sequence}
	return h
}

// AttachHandle registers an externally-chosen handle. It fails with
// AlreadyAttached if h is already a client.
func (b *Bus) AttachHandle(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[h]; ok {
		return AlreadyAttached
	}
	b.clients[h] = &clientState{sequence: b.sequence}
	return nil
}

// Detach removes h from the client table. It fails with NotAttached if h
// is unknown, and with ProtocolViolation if h still holds an open
// low-drive on either line — callers must release those before detaching.
func (b *Bus) Detach(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[h]; !ok {
		return NotAttached
	}
	if _, low := b.sda.low[h]; low {
		return ProtocolViolation
	}
	if _, low := b.scl.low[h]; low {
		return ProtocolViolation
	}

	delete(b.clients, h)
	return nil
}

// Get registers observation progress for h (the advance-if-behind step)
// and returns a coherent snapshot of both line levels.
func (b *Bus) Get(h Handle) (sda, scl Level, err error) {
	// Yield before acquiring the mutex so a tight busy-poll on a line
	// level interleaves with other participants' progress.
	runtime.Gosched()

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[h]
	if !ok {
		return 0, 0, NotAttached
	}

	b.advanceIfBehind(c)

	return b.sda.get(), b.scl.get(), nil
}

// advanceIfBehind closes the one-epoch gap a client is ever allowed to
// fall behind by: sequence - c.sequence is 0 or 1. If c is behind, it
// catches up by one and wakes a publisher that may be waiting on that
// progress.
func (b *Bus) advanceIfBehind(c *clientState) {
	if c.sequence < b.sequence {
		c.sequence++
		b.syncCondition.Signal()
	}
}

// Set enqueues event for publication and returns only once it (and any
// concurrent events queued alongside it) has been fully barrier
// synchronised: every other attached participant has observed the new
// state and had a chance to react to it.
func (b *Bus) Set(h Handle, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[h]
	if !ok {
		return NotAttached
	}

	// Step A: enqueue.
	b.queue = append(b.queue, transaction{node: h, event: event})

	// Step B: pending arbitration.
	if b.publishing {
		c.pending = true

		for b.publishing {
			for {
				// The active publisher's barrier is blocked on this
				// client's progress; keep it moving while we wait,
				// including on the wake that ends the wait.
				b.advanceIfBehind(c)
				if !c.pending || !b.publishing {
					break
				}
				b.pendingCond.Wait()
			}
			if !c.pending {
				// Our event was drained by the active publisher.
				return nil
			}
		}

		if len(b.queue) == 0 {
			// Someone else drained the queue on our behalf.
			return nil
		}
	}

	// Step C: claim publisher role.
	b.publishing = true
	b.publisher = h

	// Step D: drain queue.
	snapshot := b.queue
	b.queue = nil
	for _, t := range snapshot {
		b.apply(t)
		if cs, ok := b.clients[t.node]; ok {
			cs.pending = false
		}
	}

	// Step E: two-phase barrier. First pass: every peer observes the new
	// state. Second pass: every peer has acted on it.
	for i := 0; i < 2; i++ {
		b.sequence++
		c.sequence = b.sequence
		b.pendingCond.Broadcast()

		for !b.allSynchronized() {
			b.syncCondition.Wait()
		}
	}

	// Step F: release.
	b.publishing = false
	b.pendingCond.Broadcast()

	return nil
}

func (b *Bus) apply(t transaction) {
	switch t.event {
	case DataLow:
		b.sda.set(t.node, Low)
	case DataHigh:
		b.sda.set(t.node, High)
	case ClockLow:
		b.scl.set(t.node, Low)
	case ClockHigh:
		b.scl.set(t.node, High)
	case Delay:
		// Touches neither line, still occupies a barrier round.
	}
}

func (b *Bus) allSynchronized() bool {
	for _, c := range b.clients {
		if c.sequence != b.sequence {
			return false
		}
	}
	return true
}
