// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

// Validate checks a complete response frame. Integrity is checked first,
// since the function code of a corrupted frame cannot be trusted, then the
// exception flag, then the function code.
func Validate(frame []byte) error {
	length := len(frame)
	if length < MinSize {
		return modbus.ErrShortFrame
	}

	checksum := uint16(frame[length-2])<<8 | uint16(frame[length-1])
	if crc.Checksum(frame[:length-checksumSize]) != checksum {
		return modbus.ErrBadCRC
	}

	function := frame[offsetFunction]
	if function&modbus.ExceptionFlag != 0 {
		return &modbus.ExceptionError{
			FunctionCode:  function,
			ExceptionCode: frame[offsetFunction+1],
		}
	}

	if !modbus.IsSupported(function) {
		return modbus.ErrUnsupportedFunction
	}
	return nil
}

// SlaveID returns the address byte of a frame.
func SlaveID(frame []byte) byte {
	return frame[offsetSlaveID]
}

// FunctionCode returns the function code byte of a frame.
func FunctionCode(frame []byte) byte {
	return frame[offsetFunction]
}
