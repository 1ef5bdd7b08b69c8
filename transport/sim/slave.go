// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import (
	"encoding/binary"

	"github.com/ffutop/modbus-master/modbus"
)

// Slave answers requests from a DataModel the way a field device would.
type Slave struct {
	model *DataModel
}

// NewSlave creates a Slave on m.
func NewSlave(m *DataModel) *Slave {
	return &Slave{model: m}
}

// Process executes one request PDU and returns the response PDU, which is
// an exception response when the request cannot be served.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.read(req, 2000, func(addr, qty uint16) ([]byte, error) {
			return s.model.ReadBits(TableCoils, addr, qty)
		})
	case modbus.FuncCodeReadDiscreteInputs:
		return s.read(req, 2000, func(addr, qty uint16) ([]byte, error) {
			return s.model.ReadBits(TableDiscreteInputs, addr, qty)
		})
	case modbus.FuncCodeReadHoldingRegisters:
		return s.read(req, 125, func(addr, qty uint16) ([]byte, error) {
			return s.model.ReadRegisters(TableHoldingRegisters, addr, qty)
		})
	case modbus.FuncCodeReadInputRegisters:
		return s.read(req, 125, func(addr, qty uint16) ([]byte, error) {
			return s.model.ReadRegisters(TableInputRegisters, addr, qty)
		})
	case modbus.FuncCodeWriteSingleCoil:
		return s.writeSingle(req, func(addr, value uint16) error {
			if value != 0xFF00 && value != 0x0000 {
				return errIllegalValue
			}
			return s.model.WriteCoils(addr, 1, []byte{byte(value >> 8 & 1)})
		})
	case modbus.FuncCodeWriteSingleRegister:
		return s.writeSingle(req, func(addr, value uint16) error {
			return s.model.WriteRegisters(addr, 1, []byte{byte(value >> 8), byte(value)})
		})
	case modbus.FuncCodeWriteMultipleCoils:
		return s.writeMultiple(req, 1968, s.model.WriteCoils)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.writeMultiple(req, 123, s.model.WriteRegisters)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

type valueError string

func (e valueError) Error() string { return string(e) }

const errIllegalValue = valueError("illegal data value")

func (s *Slave) read(req modbus.ProtocolDataUnit, limit uint16, fetch func(addr, qty uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > limit {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := fetch(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte{byte(len(data))}, data...),
	}
}

func (s *Slave) writeSingle(req modbus.ProtocolDataUnit, store func(addr, value uint16) error) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := store(address, value); err != nil {
		if err == errIllegalValue {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return req // Echo request
}

func (s *Slave) writeMultiple(req modbus.ProtocolDataUnit, limit uint16, store func(addr, qty uint16, data []byte) error) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > limit || int(byteCount) != len(req.Data)-5 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := store(address, quantity, req.Data[5:]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte(nil), req.Data[0:4]...),
	}
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionFlag,
		Data:         []byte{code},
	}
}
