// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16 used by Modbus RTU
// (reflected polynomial 0xA001, initial value 0xFFFF).
package crc

const polynomial = 0xA001

var table [256]uint16

func init() {
	for i := range table {
		v := uint16(i)
		for j := 0; j < 8; j++ {
			if v&1 != 0 {
				v = v>>1 ^ polynomial
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
}

// CRC is a running Modbus checksum. The zero value must be Reset before use.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = 0xFFFF
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	v := crc.value
	for _, b := range bs {
		v = v>>8 ^ table[byte(v)^b]
	}
	crc.value = v
	return crc
}

// Value returns the accumulator. Its low byte goes on the wire first.
func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC of b with its bytes swapped, so that the high
// byte of the result is the first checksum byte on the wire.
func Checksum(b []byte) uint16 {
	var crc CRC
	v := crc.Reset().PushBytes(b).Value()
	return v<<8 | v>>8
}
