// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

/*
Package modbus holds the protocol vocabulary shared by the RTU framer and
the master: function codes, exception codes, the protocol data unit and the
error taxonomy reported by a transaction.
*/
package modbus

const (
	// Bit access
	FuncCodeReadCoils          = 0x01
	FuncCodeReadDiscreteInputs = 0x02
	FuncCodeWriteSingleCoil    = 0x05
	FuncCodeWriteMultipleCoils = 0x0F

	// 16-bit access
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10
)

const (
	ExceptionCodeIllegalFunction     = 1
	ExceptionCodeIllegalDataAddress  = 2
	ExceptionCodeIllegalDataValue    = 3
	ExceptionCodeServerDeviceFailure = 4
)

// ExceptionFlag is set in the function code of an exception response.
const ExceptionFlag = 0x80

const (
	// MaxSlaveID is the highest unicast slave address.
	MaxSlaveID = 247
	// BroadcastID addresses every slave; no reply is expected.
	BroadcastID = 0
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

var supported = [...]byte{
	FuncCodeReadCoils,
	FuncCodeReadDiscreteInputs,
	FuncCodeReadHoldingRegisters,
	FuncCodeReadInputRegisters,
	FuncCodeWriteSingleCoil,
	FuncCodeWriteSingleRegister,
	FuncCodeWriteMultipleCoils,
	FuncCodeWriteMultipleRegisters,
}

// IsSupported reports whether code is one of the eight register and coil
// access codes handled by the master.
func IsSupported(code byte) bool {
	for _, c := range supported {
		if c == code {
			return true
		}
	}
	return false
}

// IsRegisterRead reports whether code reads 16-bit registers.
func IsRegisterRead(code byte) bool {
	return code == FuncCodeReadHoldingRegisters || code == FuncCodeReadInputRegisters
}

// IsBitRead reports whether code reads coils or discrete inputs.
func IsBitRead(code byte) bool {
	return code == FuncCodeReadCoils || code == FuncCodeReadDiscreteInputs
}

// IsRead reports whether code is any of the four read codes.
func IsRead(code byte) bool {
	return IsRegisterRead(code) || IsBitRead(code)
}

// FunctionName returns a short human readable name for code.
func FunctionName(code byte) string {
	switch code {
	case FuncCodeReadCoils:
		return "read coils"
	case FuncCodeReadDiscreteInputs:
		return "read discrete inputs"
	case FuncCodeReadHoldingRegisters:
		return "read holding registers"
	case FuncCodeReadInputRegisters:
		return "read input registers"
	case FuncCodeWriteSingleCoil:
		return "write single coil"
	case FuncCodeWriteSingleRegister:
		return "write single register"
	case FuncCodeWriteMultipleCoils:
		return "write multiple coils"
	case FuncCodeWriteMultipleRegisters:
		return "write multiple registers"
	}
	return "unknown"
}
