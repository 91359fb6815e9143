// Package controller implements the I²C controller protocol: turning
// octet-level read/write/recover operations into the line-level events
// exposed by wire.Node.
package controller

import (
	"i2csim/i2clog"
	"i2csim/trace"
	"i2csim/wire"
)

// ReadFlag controls Read's behaviour.
type ReadFlag uint

const (
	ReadNone ReadFlag = 0
	// ReadNACK requests that the read octet not be acknowledged.
	ReadNACK ReadFlag = 1 << 0
	// ReadStop requests a stop condition after the read.
	ReadStop ReadFlag = 1 << 1
)

// WriteFlag controls Write's behaviour.
type WriteFlag uint

const (
	WriteNone WriteFlag = 0
	// WriteStart requests a start (or restart) condition before the write.
	WriteStart WriteFlag = 1 << 0
	// WriteStop requests a stop condition after the write.
	WriteStop WriteFlag = 1 << 1
)

// Controller models an I²C controller connected to a bus. Read and Write
// operate at octet granularity with flags controlling start/stop
// conditions and acknowledgement; Recover pulses SCL to release a stuck
// bus.
type Controller struct {
	node    *wire.Node
	log     *i2clog.Logger
	started bool
}

// New attaches a controller named name to bus.
func New(bus *wire.Bus, name string) *Controller {
	return &Controller{
		node: wire.NewNode(bus, name),
		log:  i2clog.For(name),
	}
}

// Close detaches the controller.
func (c *Controller) Close() error { return c.node.Close() }

// Name returns the controller's name.
func (c *Controller) Name() string { return c.node.Name() }

// Trace attaches conn so every line drive this controller makes is also
// published as a trace.Message. Set it before issuing any transaction;
// wire.Node does not guard the tracer field against concurrent use.
func (c *Controller) Trace(conn *trace.Connection) { c.node.Trace(conn) }

func (c *Controller) clockStretching() {
	for c.node.SCL() == wire.Low {
		// TODO: bound this with a timeout once the kernel exposes a timer
		// primitive; today a target that never releases SCL stalls here
		// forever.
		c.log.Debug("clock stretched")
	}
}

// writeStartCondition signals SDA low while SCL stays high.
func (c *Controller) writeStartCondition() {
	if c.started {
		c.log.Debug("restart")

		c.node.SetSDA(wire.High)
		c.node.Delay()
		c.node.SetSCL(wire.High)
		c.clockStretching()
		c.node.Delay()
	}

	c.log.Debug("start")

	c.node.SetSDA(wire.Low)
	c.node.Delay()
	c.node.SetSCL(wire.Low)
	c.started = true

	c.log.Debug("started")
}

// writeStopCondition signals SCL going high, then SDA going high.
func (c *Controller) writeStopCondition() {
	c.log.Debug("stop")

	c.node.SetSDA(wire.Low)
	c.node.Delay()
	c.node.SetSCL(wire.High)
	c.clockStretching()
	c.node.Delay()
	c.node.SetSDA(wire.High)
	c.node.Delay()
	c.started = false

	c.log.Debug("stopped")
}

// writeBit drives SDA then pulses SCL; other bus nodes sample SDA while
// SCL is high.
func (c *Controller) writeBit(bit wire.Level) {
	c.log.Debugf("write bit: %d", bit)

	c.node.SetSDA(bit)
	c.node.Delay()
	c.node.SetSCL(wire.High)
	c.node.Delay()
	c.clockStretching()
	c.node.SetSCL(wire.Low)

	c.log.Debug("written")
}

// readBit pulses SCL, sampling SDA while SCL is high.
func (c *Controller) readBit() wire.Level {
	c.log.Debug("read bit")

	c.node.SetSDA(wire.High)
	c.node.Delay()
	c.node.SetSCL(wire.High)
	c.clockStretching()
	c.node.Delay()
	bit := c.node.SDA()
	c.node.SetSCL(wire.Low)

	c.log.Debugf("read bit=%d", bit)
	return bit
}

// Read reads one octet, MSB first, then writes the acknowledgement bit
// (NACK if flags carries ReadNACK, ACK otherwise), then optionally a stop
// condition.
func (c *Controller) Read(flags ReadFlag) byte {
	c.log.Debug("read")

	var octet byte
	for i := 0; i < 8; i++ {
		octet <<= 1
		if c.readBit() == wire.High {
			octet |= 1
		}
	}

	nack := wire.Low
	if flags&ReadNACK != 0 {
		nack = wire.High
	}
	c.log.Debugf("nack:%d", nack)
	c.writeBit(nack)

	if flags&ReadStop != 0 {
		c.writeStopCondition()
	}

	c.log.Infof("read=%s", i2clog.Octet(octet))
	return octet
}

// Write writes one octet, MSB first, optionally preceded by a start
// condition and followed by a stop condition. It returns true if the
// target did not acknowledge the octet.
func (c *Controller) Write(octet byte, flags WriteFlag) (nack bool) {
	c.log.Debugf("write octet:%s", i2clog.Octet(octet))

	if flags&WriteStart != 0 {
		c.writeStartCondition()
	}

	for i := 0; i < 8; i++ {
		level := wire.Low
		if octet&0x80 != 0 {
			level = wire.High
		}
		c.writeBit(level)
		octet <<= 1
	}

	nackBit := c.readBit()
	c.log.Debugf("nack=%d", nackBit)

	if flags&WriteStop != 0 {
		c.writeStopCondition()
	}

	c.log.Debug("written")
	return nackBit == wire.High
}

// Recover pulses SCL, sampling SDA, until nine consecutive High samples
// are observed, then emits a stop condition. Use this to release a bus
// left with SDA stuck low by an interrupted transaction.
func (c *Controller) Recover() {
	c.log.Debug("recover")

	c.node.SetSCL(wire.Low)
	c.node.Delay()

	const numSamples = 9
	counter := 0
	for {
		level := c.readBit()

		if level == wire.High {
			counter++
			if counter == numSamples {
				c.writeStopCondition()
				break
			}
		} else {
			counter = 0
		}

		c.log.Debugf("recover=%d", counter)
	}

	c.log.Debug("recovered")
}

// ReadRegister performs the common 7-bit-address/8-bit-register read
// transaction: START, write address (write direction), write register,
// RESTART, write address (read direction), read n bytes acknowledging
// all but the last, STOP. It returns the bytes read and true if an
// address octet or the register octet was not acknowledged.
func (c *Controller) ReadRegister(addr7, reg uint8, n int) ([]byte, bool) {
	writeAddr := addr7 << 1
	readAddr := writeAddr | 1

	if c.Write(writeAddr, WriteStart) {
		return nil, true
	}
	if c.Write(reg, WriteNone) {
		return nil, true
	}
	if c.Write(readAddr, WriteStart) {
		return nil, true
	}

	data := make([]byte, n)
	for i := range data {
		flags := ReadNone
		if i == n-1 {
			flags = ReadNACK | ReadStop
		}
		data[i] = c.Read(flags)
	}
	if n == 0 {
		c.writeStopCondition()
	}
	return data, false
}

// WriteRegister performs the common 7-bit-address/8-bit-register write
// transaction: START, write address, write register, write each data
// byte, STOP. It returns true if any octet was not acknowledged.
func (c *Controller) WriteRegister(addr7, reg uint8, data []byte) bool {
	writeAddr := addr7 << 1

	if c.Write(writeAddr, WriteStart) {
		return true
	}
	regFlags := WriteNone
	if len(data) == 0 {
		regFlags = WriteStop
	}
	if c.Write(reg, regFlags) {
		return true
	}

	for i, b := range data {
		flags := WriteNone
		if i == len(data)-1 {
			flags = WriteStop
		}
		if c.Write(b, flags) {
			return true
		}
	}
	return false
}
