// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"

	"github.com/ffutop/modbus-master/modbus"
)

// byteCount returns the declared payload size of a validated read response,
// checking that the payload is actually inside the frame.
func byteCount(frame []byte) (int, error) {
	count := int(frame[offsetByteCount])
	if offsetPayload+count+checksumSize > len(frame) {
		return 0, modbus.ErrInvalidByteCount
	}
	return count, nil
}

// DecodeRegisters copies the big-endian register values of a read holding
// or input registers response into dst and returns how many were written.
func DecodeRegisters(frame []byte, dst []uint16) (int, error) {
	count, err := byteCount(frame)
	if err != nil {
		return 0, err
	}
	n := count / 2
	if count%2 != 0 || n > len(dst) {
		return 0, modbus.ErrInvalidByteCount
	}
	for i := 0; i < n; i++ {
		dst[i] = binary.BigEndian.Uint16(frame[offsetPayload+2*i:])
	}
	return n, nil
}

// DecodeBits packs the status bytes of a read coils or discrete inputs
// response into dst, two bytes per register with the even byte in the low
// half. It returns the number of registers touched.
func DecodeBits(frame []byte, dst []uint16) (int, error) {
	count, err := byteCount(frame)
	if err != nil {
		return 0, err
	}
	n := (count + 1) / 2
	if n > len(dst) {
		return 0, modbus.ErrInvalidByteCount
	}
	for i := 0; i < count; i++ {
		b := uint16(frame[offsetPayload+i])
		if i%2 == 0 {
			dst[i/2] = dst[i/2]&0xFF00 | b
		} else {
			dst[i/2] = dst[i/2]&0x00FF | b<<8
		}
	}
	return n, nil
}
