// Package scenario provides the shared bus-plus-controller-plus-targets
// fixture used by the end-to-end scenario tests and by the
// cmd/i2csim-harness binary, mirroring the four-target setup (addresses
// 0x50 through 0x53) the bus kernel's own test program exercises.
package scenario

import (
	"context"

	"i2csim/controller"
	"i2csim/target"
	"i2csim/trace"
	"i2csim/wire"
)

// NumTargets is the number of auto-incrementing targets a Harness
// attaches, at consecutive addresses starting at BaseAddress.
const NumTargets = 4

// BaseAddress is the 7-bit address of the first attached target; target
// i sits at BaseAddress+i.
const BaseAddress = 0x50

// StretchAddress is the 7-bit address of the target that stretches its
// read acknowledgement clock (see target.AutoIncrement's handleControllerRead).
const StretchAddress = 0x53

// Harness bundles a bus, one controller named C00, and NumTargets
// auto-incrementing targets named T50..T53, each already running its
// main loop on its own goroutine.
type Harness struct {
	Bus        *wire.Bus
	Controller *controller.Controller
	Targets    [NumTargets]*target.AutoIncrement

	cancel context.CancelFunc
}

// New builds and starts a Harness. Call Close to stop every target and
// detach the controller.
func New() *Harness {
	bus := wire.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Harness{
		Bus:        bus,
		Controller: controller.New(bus, "C00"),
		cancel:     cancel,
	}

	for i := range h.Targets {
		addr := uint8(BaseAddress + i)
		name := addrName(addr)
		h.Targets[i] = target.NewAutoIncrement(bus, name, addr)
		go h.Targets[i].Run(ctx)
	}

	return h
}

// Close stops every target and detaches the controller.
func (h *Harness) Close() {
	h.cancel()
	for _, t := range h.Targets {
		_ = t.Close()
	}
	_ = h.Controller.Close()
}

// Trace attaches conn to the controller and every target, so all line
// activity in the harness is published to it. Call this before issuing
// any transaction.
func (h *Harness) Trace(conn *trace.Connection) {
	h.Controller.Trace(conn)
	for _, t := range h.Targets {
		t.Trace(conn)
	}
}

// Target returns the target attached at 7-bit address addr, or nil.
func (h *Harness) Target(addr uint8) *target.AutoIncrement {
	for _, t := range h.Targets {
		if t.Address() == addr {
			return t
		}
	}
	return nil
}

func addrName(addr uint8) string {
	const hex = "0123456789ABCDEF"
	return "T" + string([]byte{hex[addr>>4], hex[addr&0xf]})
}
