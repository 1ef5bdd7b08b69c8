// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"time"

	"github.com/ffutop/modbus-master/modbus"
)

// DefaultSilence is the end-of-frame silence, in milliseconds, used when no
// baud rate specific value is configured.
const DefaultSilence = 5

// ByteSource is the receive half of a transport. Both methods must return
// without blocking.
type ByteSource interface {
	// Available returns the number of bytes buffered for reading.
	Available() int
	// ReadByte consumes one buffered byte.
	ReadByte() (byte, error)
}

// Receiver detects the end of a response frame on a stream that carries no
// length or delimiter.
//
// It does not timestamp individual characters. Instead it re-samples the
// transport's available byte count on every poll and declares the frame
// complete once that count has stayed unchanged for Silence milliseconds.
// This only approximates the t3.5 inter-character timeout when polls happen
// much more often than Silence; a caller polling every few milliseconds at a
// Silence of 5 ms is fine, a caller polling every 50 ms is not, because two
// frames may then merge or a slow frame may be cut in two.
type Receiver struct {
	// Silence is the quiet time, in milliseconds, that ends a frame.
	Silence uint32

	lastCount  int
	lastChange uint32
}

// Reset forgets the observed byte count.
func (r *Receiver) Reset() {
	r.lastCount = 0
	r.lastChange = 0
}

// Sample records the currently available byte count at time now and
// reports whether the stream is quiescent. Time arithmetic wraps with the
// clock.
func (r *Receiver) Sample(available int, now uint32) bool {
	if available == 0 {
		return false
	}
	if available != r.lastCount {
		r.lastCount = available
		r.lastChange = now
		return false
	}
	return now-r.lastChange >= r.Silence
}

// Drain moves every buffered byte of src into f, replacing its contents.
// Bytes beyond the frame capacity are consumed and discarded, and
// modbus.ErrBufferOverflow is returned with f emptied.
func (r *Receiver) Drain(src ByteSource, f *Frame) error {
	r.Reset()
	f.Reset()

	overflow := false
	// Bounded so a chattering line cannot keep the caller inside Drain.
	for n := 0; n < 2*MaxSize && src.Available() > 0; n++ {
		b, err := src.ReadByte()
		if err != nil {
			break
		}
		if !f.Append(b) {
			overflow = true
		}
	}
	if overflow {
		f.Reset()
		return modbus.ErrBufferOverflow
	}
	return nil
}

// SilenceInterval returns the 3.5 character time that separates frames at
// baudRate. Above 19200 baud the standard fixes it at 1750µs.
func SilenceInterval(baudRate int) time.Duration {
	var frameDelay int

	if baudRate <= 0 || baudRate > 19200 {
		frameDelay = 1750
	} else {
		frameDelay = 35000000 / baudRate
	}
	return time.Duration(frameDelay) * time.Microsecond
}

// SilenceMillis rounds SilenceInterval up to whole milliseconds, never going
// below DefaultSilence.
func SilenceMillis(baudRate int) uint32 {
	d := SilenceInterval(baudRate)
	ms := uint32((d + time.Millisecond - 1) / time.Millisecond)
	if ms < DefaultSilence {
		ms = DefaultSilence
	}
	return ms
}
