// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// Frame is a fixed-capacity buffer holding one RTU frame. It is reused for
// the outgoing request and the incoming response of a transaction and never
// grows past MaxSize.
type Frame struct {
	buf [MaxSize]byte
	n   int
}

// Reset empties the frame.
func (f *Frame) Reset() {
	f.n = 0
}

// Len returns the number of bytes held.
func (f *Frame) Len() int {
	return f.n
}

// Bytes returns the held bytes. The slice aliases the frame and is only
// valid until the next Reset.
func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

// Append adds b to the frame. It reports false, leaving the frame untouched,
// when b does not fit.
func (f *Frame) Append(b ...byte) bool {
	if f.n+len(b) > MaxSize {
		return false
	}
	f.n += copy(f.buf[f.n:], b)
	return true
}

// AppendUint16 adds v in big-endian order.
func (f *Frame) AppendUint16(v uint16) bool {
	return f.Append(byte(v>>8), byte(v))
}
