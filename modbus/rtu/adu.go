// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

// Request describes one master query.
//
// Registers is caller-owned storage. It is the value source of write
// requests and the destination of read responses; it is never copied, so
// it must stay valid until the transaction resolves. Coil and discrete
// input states are packed two status bytes per register, low byte first.
type Request struct {
	SlaveID      byte
	FunctionCode byte
	Address      uint16
	Quantity     uint16
	Registers    []uint16
}

// Validate checks the request against the ranges the frame layout and the
// standard allow. Every error wraps modbus.ErrRequestRejected.
func (req *Request) Validate() error {
	if req.SlaveID > modbus.MaxSlaveID {
		return modbus.ErrInvalidSlaveID
	}
	if req.SlaveID == modbus.BroadcastID && modbus.IsRead(req.FunctionCode) {
		return modbus.ErrInvalidSlaveID
	}

	var limit, words int
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs:
		limit, words = MaxReadBits, bitWords(req.Quantity)
	case modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		limit, words = MaxReadRegisters, int(req.Quantity)
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		if len(req.Registers) < 1 {
			return modbus.ErrStorageTooSmall
		}
		return nil
	case modbus.FuncCodeWriteMultipleCoils:
		limit, words = MaxWriteCoils, bitWords(req.Quantity)
	case modbus.FuncCodeWriteMultipleRegisters:
		limit, words = MaxWriteRegisters, int(req.Quantity)
	default:
		return modbus.ErrInvalidFunction
	}
	if req.Quantity == 0 || int(req.Quantity) > limit {
		return modbus.ErrInvalidQuantity
	}
	if len(req.Registers) < words {
		return modbus.ErrStorageTooSmall
	}
	return nil
}

// Encode writes the request into f as an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 4 up to 251 bytes
//	CRC             : 2 bytes, low byte first
func (req *Request) Encode(f *Frame) error {
	if err := req.Validate(); err != nil {
		return err
	}
	f.Reset()
	ok := f.Append(req.SlaveID, req.FunctionCode) && f.AppendUint16(req.Address)

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		ok = ok && f.AppendUint16(req.Quantity)
	case modbus.FuncCodeWriteSingleCoil:
		value := uint16(coilOff)
		if req.Registers[0] != 0 {
			value = coilOn
		}
		ok = ok && f.AppendUint16(value)
	case modbus.FuncCodeWriteSingleRegister:
		ok = ok && f.AppendUint16(req.Registers[0])
	case modbus.FuncCodeWriteMultipleCoils:
		count := bitBytes(req.Quantity)
		ok = ok && f.AppendUint16(req.Quantity) && f.Append(byte(count))
		for i := 0; ok && i < count; i++ {
			ok = f.Append(packedByte(req.Registers, i))
		}
	case modbus.FuncCodeWriteMultipleRegisters:
		ok = ok && f.AppendUint16(req.Quantity) && f.Append(byte(req.Quantity*2))
		for i := 0; ok && i < int(req.Quantity); i++ {
			ok = f.AppendUint16(req.Registers[i])
		}
	}

	if ok {
		ok = f.AppendUint16(crc.Checksum(f.Bytes()))
	}
	if !ok {
		f.Reset()
		return modbus.ErrFrameTooLong
	}
	return nil
}

// bitBytes is the number of bytes carrying quantity coil states.
func bitBytes(quantity uint16) int {
	return (int(quantity) + 7) / 8
}

// bitWords is the number of registers holding quantity packed coil states.
func bitWords(quantity uint16) int {
	return (bitBytes(quantity) + 1) / 2
}

// packedByte returns status byte i of regs: even bytes live in the low half
// of a register, odd bytes in the high half.
func packedByte(regs []uint16, i int) byte {
	if i%2 == 0 {
		return byte(regs[i/2])
	}
	return byte(regs[i/2] >> 8)
}
