// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"io"
	"time"

	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Port is the byte-level transport the master drives. Write may block until
// the bytes are queued or sent; Available and ReadByte must not block.
type Port interface {
	io.Writer
	rtu.ByteSource
}

// DirectionController is implemented by ports wired to a half-duplex line
// driver. The master switches the driver to transmit before writing a frame
// and back to receive afterwards. Any hold-over delay after the last byte
// belongs to the port.
type DirectionController interface {
	SetTransmit(on bool) error
}

// Clock is a millisecond counter that wraps at 32 bits.
type Clock interface {
	Millis() uint32
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock starting at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}
