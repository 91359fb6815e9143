// Package i2cdrv adapts a simulated controller.Controller to the
// tinygo.org/x/drivers.I2C interface, so real TinyGo device drivers
// written against that interface can be driven against the simulated
// bus unmodified.
package i2cdrv

import (
	"errors"

	"i2csim/controller"
)

// Adapter implements tinygo.org/x/drivers.I2C: Tx(addr uint16, w, r
// []byte) error. Exactly one of w or r should be non-empty per the
// interface's documented usage; Adapter additionally accepts both being
// non-empty as a combined write-then-read register transaction, the
// shape almost every TinyGo sensor driver actually issues.
type Adapter struct {
	ctrl *controller.Controller
}

// New returns an Adapter driving ctrl. addr7 validation happens per-call
// against the address passed to Tx, not at construction, matching the
// tinygo driver contract where a single I2C bus serves many addresses.
func New(ctrl *controller.Controller) *Adapter {
	return &Adapter{ctrl: ctrl}
}

// Tx performs an I2C transaction at the 7-bit address addr: if both w
// and r are non-empty, it writes w then reads len(r) bytes in the same
// transaction via a restart (the common register-read shape); if only w
// is non-empty it is a plain write; if only r is non-empty it is a plain
// read.
func (a *Adapter) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return errors.New("i2cdrv: address does not fit in 7 bits")
	}
	addr7 := uint8(addr)

	switch {
	case len(w) > 0 && len(r) > 0:
		return a.writeThenRead(addr7, w, r)
	case len(w) > 0:
		return a.write(addr7, w)
	case len(r) > 0:
		return a.read(addr7, r)
	default:
		return nil
	}
}

func (a *Adapter) write(addr7 uint8, w []byte) error {
	writeAddr := addr7 << 1
	if a.ctrl.Write(writeAddr, controller.WriteStart) {
		return errNack(addr7)
	}
	for i, b := range w {
		flags := controller.WriteNone
		if i == len(w)-1 {
			flags = controller.WriteStop
		}
		if a.ctrl.Write(b, flags) {
			return errNack(addr7)
		}
	}
	return nil
}

func (a *Adapter) read(addr7 uint8, r []byte) error {
	readAddr := addr7<<1 | 1
	if a.ctrl.Write(readAddr, controller.WriteStart) {
		return errNack(addr7)
	}
	for i := range r {
		flags := controller.ReadNone
		if i == len(r)-1 {
			flags = controller.ReadNACK | controller.ReadStop
		}
		r[i] = a.ctrl.Read(flags)
	}
	return nil
}

func (a *Adapter) writeThenRead(addr7 uint8, w, r []byte) error {
	writeAddr := addr7 << 1
	if a.ctrl.Write(writeAddr, controller.WriteStart) {
		return errNack(addr7)
	}
	for _, b := range w {
		if a.ctrl.Write(b, controller.WriteNone) {
			return errNack(addr7)
		}
	}

	readAddr := writeAddr | 1
	if a.ctrl.Write(readAddr, controller.WriteStart) {
		return errNack(addr7)
	}
	for i := range r {
		flags := controller.ReadNone
		if i == len(r)-1 {
			flags = controller.ReadNACK | controller.ReadStop
		}
		r[i] = a.ctrl.Read(flags)
	}
	return nil
}

func errNack(addr7 uint8) error {
	return errors.New("i2cdrv: no acknowledgement from address")
}
