// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is the smallest response frame the master accepts.
	MinSize = 6
	// MaxSize is the capacity of a frame buffer, checksum included.
	MaxSize = 256

	// ExceptionSize is the size of a bare exception response. It is below
	// MinSize, so such a frame is reported as short.
	ExceptionSize = 5
	checksumSize  = 2
)

// Field offsets inside a frame.
const (
	offsetSlaveID   = 0
	offsetFunction  = 1
	offsetByteCount = 2 // in read responses
	offsetPayload   = 3 // in read responses
)

// Quantity limits of the standard.
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteCoils     = 1968
	MaxWriteRegisters = 123
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)
