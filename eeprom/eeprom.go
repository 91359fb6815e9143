// Package eeprom implements a page-write-aware, controller-side EEPROM
// driver for an auto-incrementing I²C target: reads stream straight
// through the target's register file, but writes are chunked to a
// configurable page size and each chunk is followed by a write delay,
// mirroring how a driver must pace writes to a real serial EEPROM
// (24-series and similar).
package eeprom

import (
	"errors"
	"fmt"
	"io"
	"time"

	"i2csim/controller"
	"i2csim/i2clog"
	"i2csim/x/mathx"
)

// Config describes the page geometry of an EEPROM part.
type Config struct {
	Size       uint
	PageSize   uint
	WriteDelay time.Duration
}

// Conf24C02 matches the well-known 24C02: 256 bytes, 8-byte pages.
var Conf24C02 = Config{Size: 256, PageSize: 8, WriteDelay: 5 * time.Millisecond}

// Device is an io.Reader, io.Seeker and io.Writer backed by an
// AutoIncrement-style target addressed over a controller.Controller. Its
// file position is independent of the target's own register pointer:
// each Read or Write re-addresses the target from the tracked position.
type Device struct {
	Config
	ctrl   *controller.Controller
	addr7  uint8
	pos    uint
	waiter func(time.Duration)
	log    *i2clog.Logger
}

// New returns a Device addressing a 7-bit-addressed target over ctrl.
func New(ctrl *controller.Controller, addr7 uint8, conf Config) (*Device, error) {
	if addr7 > 0x7F {
		return nil, errors.New("eeprom: only 7-bit device addresses are supported")
	}
	if conf.Size > 256 {
		return nil, errors.New("eeprom: Size exceeds one target's 256-byte register file")
	}
	return &Device{
		Config: conf,
		ctrl:   ctrl,
		addr7:  addr7,
		waiter: time.Sleep,
		log:    i2clog.For(fmt.Sprintf("EE%02X", addr7)),
	}, nil
}

// Read implements io.Reader, reading from the device starting at the
// current file position and advancing it by the number of bytes read.
func (d *Device) Read(b []byte) (int, error) {
	start := d.pos
	end := start + uint(len(b))
	if end > d.Size {
		end = d.Size
	}
	if end == start {
		return 0, io.EOF
	}

	n := end - start
	data, nack := d.ctrl.ReadRegister(d.addr7, uint8(start), int(n))
	if nack {
		return 0, errors.New("eeprom: read: target did not acknowledge")
	}

	copy(b, data)
	d.pos += uint(len(data))
	return len(data), nil
}

// Seek implements io.Seeker.
func (d *Device) Seek(offset int64, whence int) (int64, error) {
	cur := int64(d.pos)

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = cur + offset
	case io.SeekEnd:
		next = int64(d.Size) + offset
	default:
		return cur, errors.New("eeprom: Seek: invalid whence")
	}

	if next < 0 {
		return cur, errors.New("eeprom: Seek: negative position")
	}
	if next > int64(d.Size) {
		return cur, errors.New("eeprom: Seek: position beyond end of device")
	}

	d.pos = uint(next)
	return next, nil
}

// Write implements io.Writer, splitting b into page-aligned chunks and
// pausing WriteDelay after each chunk to model the part's internal write
// cycle.
func (d *Device) Write(b []byte) (int, error) {
	total := len(b)

	for len(b) > 0 && d.pos < d.Size {
		addressInPage := d.pos & (d.PageSize - 1)
		chunk := mathx.Min(d.PageSize-addressInPage, uint(len(b)))
		chunk = mathx.Min(chunk, d.Size-d.pos)

		if addressInPage+chunk == d.PageSize && chunk < uint(len(b)) {
			d.log.Debugf("write crosses page boundary at %#x", d.pos+chunk)
		}

		if nack := d.ctrl.WriteRegister(d.addr7, uint8(d.pos), b[:chunk]); nack {
			return total - len(b), errors.New("eeprom: write: target did not acknowledge")
		}

		if d.waiter != nil {
			d.waiter(d.WriteDelay)
		}

		d.pos += chunk
		b = b[chunk:]
	}

	if d.pos == d.Size && len(b) > 0 {
		return total - len(b), io.EOF
	}
	return total, nil
}
