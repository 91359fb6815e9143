package wire

import (
	"sync"
	"testing"
	"time"
)

// pollClients keeps calling Get for each of hs on its own goroutine until
// the returned stop func is called, so that every publish in a test sees
// its peers observe each barrier epoch.
func pollClients(b *Bus, hs ...Handle) (stop func()) {
	quit := make(chan struct{})
	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			for {
				select {
				case <-quit:
					return
				default:
					b.Get(h)
				}
			}
		}(h)
	}
	return func() {
		close(quit)
		wg.Wait()
	}
}

func TestAttachDetach(t *testing.T) {
	b := NewBus()
	h := b.Attach()

	if err := b.Detach(h); err != nil {
		t.Fatalf("Detach: unexpected error %v", err)
	}
	if err := b.Detach(h); err != NotAttached {
		t.Fatalf("Detach twice: got %v, want NotAttached", err)
	}
}

func TestAttachHandleAlreadyAttached(t *testing.T) {
	b := NewBus()
	if err := b.AttachHandle(42); err != nil {
		t.Fatalf("first AttachHandle: unexpected error %v", err)
	}
	if err := b.AttachHandle(42); err != AlreadyAttached {
		t.Fatalf("second AttachHandle: got %v, want AlreadyAttached", err)
	}
}

func TestGetNotAttached(t *testing.T) {
	b := NewBus()
	if _, _, err := b.Get(999); err != NotAttached {
		t.Fatalf("Get on unknown handle: got %v, want NotAttached", err)
	}
}

func TestSetNotAttached(t *testing.T) {
	b := NewBus()
	if err := b.Set(999, DataLow); err != NotAttached {
		t.Fatalf("Set on unknown handle: got %v, want NotAttached", err)
	}
}

func TestDetachWithOpenLowDriveIsProtocolViolation(t *testing.T) {
	b := NewBus()
	h := b.Attach()

	// A lone client publishing alone still passes through the full
	// two-phase barrier: the publisher is the only entry allSynchronized
	// checks, and it sets its own sequence, so this never blocks.
	if err := b.Set(h, DataLow); err != nil {
		t.Fatalf("Set: unexpected error %v", err)
	}

	if err := b.Detach(h); err != ProtocolViolation {
		t.Fatalf("Detach while driving low: got %v, want ProtocolViolation", err)
	}

	if err := b.Set(h, DataHigh); err != nil {
		t.Fatalf("release: unexpected error %v", err)
	}
	if err := b.Detach(h); err != nil {
		t.Fatalf("Detach after release: unexpected error %v", err)
	}
}

func TestWiredANDAcrossClients(t *testing.T) {
	b := NewBus()
	a := b.Attach()
	c := b.Attach()

	// Each Set waits for the other client to observe it twice.
	defer pollClients(b, a, c)()

	if err := b.Set(a, DataLow); err != nil {
		t.Fatal(err)
	}
	sda, _, _ := b.Get(c)
	if sda != Low {
		t.Fatalf("sda = %v, want Low", sda)
	}

	if err := b.Set(c, DataLow); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(a, DataHigh); err != nil {
		t.Fatal(err)
	}
	sda, _, _ = b.Get(a)
	if sda != Low {
		t.Fatalf("sda = %v, want Low (c still driving)", sda)
	}

	if err := b.Set(c, DataHigh); err != nil {
		t.Fatal(err)
	}
	sda, _, _ = b.Get(a)
	if sda != High {
		t.Fatalf("sda = %v, want High", sda)
	}
}

func TestDelayAdvancesSequenceByTwoAndIsStateNeutral(t *testing.T) {
	b := NewBus()
	a := b.Attach()
	c := b.Attach()

	// Keep c's Get calls flowing on another goroutine so a's publish
	// (which needs c to observe twice) doesn't block forever.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				b.Get(c)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	before := b.sequence
	if err := b.Set(a, Delay); err != nil {
		t.Fatal(err)
	}
	close(stop)
	<-done

	if got := b.sequence - before; got != 2 {
		t.Fatalf("sequence advanced by %d, want 2", got)
	}
	if b.sda.get() != High || b.scl.get() != High {
		t.Fatalf("Delay mutated a line: sda=%v scl=%v", b.sda.get(), b.scl.get())
	}
}

func TestInvariantSequenceGapAtMostOne(t *testing.T) {
	b := NewBus()
	a := b.Attach()
	c := b.Attach()

	stop := make(chan struct{})
	done := make(chan struct{})
	violations := make(chan string, 8)
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				b.mu.Lock()
				gap := b.sequence - b.clients[c].sequence
				b.mu.Unlock()
				if gap > 1 {
					violations <- "gap exceeded 1"
					return
				}
				b.Get(c)
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := b.Set(a, Delay); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	<-done

	select {
	case msg := <-violations:
		t.Fatal(msg)
	default:
	}
}

func TestConcurrentPublishersBothReturn(t *testing.T) {
	b := NewBus()
	a := b.Attach()
	c := b.Attach()

	// Both participants keep sampling, as a cooperative participant must,
	// so whichever publishes second is not left waiting on the other.
	defer pollClients(b, a, c)()

	var wg sync.WaitGroup
	wg.Add(2)

	errs := make(chan error, 2)
	go func() {
		defer wg.Done()
		errs <- b.Set(a, DataLow)
	}()
	go func() {
		defer wg.Done()
		errs <- b.Set(c, ClockLow)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: two concurrent Set calls deadlocked")
	}
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}

	sda, scl, _ := b.Get(a)
	if sda != Low || scl != Low {
		t.Fatalf("sda=%v scl=%v, want both Low", sda, scl)
	}
}

func TestSetInResponseToObservedEventDoesNotDeadlock(t *testing.T) {
	// c publishes its own event from inside its Get-driven poll loop as
	// soon as it sees SCL High, overlapping a's ClockHigh publish; this
	// exercises the in-wait advance-if-behind path in Step B. a keeps
	// sampling so that c's publish can complete.
	b := NewBus()
	a := b.Attach()
	c := b.Attach()

	defer pollClients(b, a)()

	reacted := make(chan struct{})
	go func() {
		for {
			_, scl, _ := b.Get(c)
			if scl == High {
				_ = b.Set(c, DataLow)
				close(reacted)
				return
			}
		}
	}()

	if err := b.Set(a, ClockHigh); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reacted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reactive publish")
	}
}

func TestManyConcurrentPublishersConverge(t *testing.T) {
	b := NewBus()
	handles := make([]Handle, 8)
	for i := range handles {
		handles[i] = b.Attach()
	}

	// Every participant keeps sampling, including after its own last
	// publish, so the remaining publishers' barriers can complete.
	stop := pollClients(b, handles...)

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = b.Set(h, Delay)
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out: publisher fan-in deadlocked")
	}
	stop()

	if !b.allSynchronized() {
		t.Fatal("clients left unsynchronised after fan-in")
	}
}
