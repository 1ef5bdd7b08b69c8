// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// ErrRequestRejected is wrapped by every error returned synchronously when a
// query cannot be started. Nothing is transmitted in that case.
var ErrRequestRejected = errors.New("modbus: request rejected")

var (
	ErrNotIdle             = fmt.Errorf("%w: transaction in progress", ErrRequestRejected)
	ErrInvalidSlaveID      = fmt.Errorf("%w: slave id out of range", ErrRequestRejected)
	ErrInvalidFunction     = fmt.Errorf("%w: unsupported function code", ErrRequestRejected)
	ErrInvalidQuantity     = fmt.Errorf("%w: invalid quantity", ErrRequestRejected)
	ErrStorageTooSmall     = fmt.Errorf("%w: register storage shorter than quantity", ErrRequestRejected)
	ErrFrameTooLong        = fmt.Errorf("%w: encoded frame exceeds buffer capacity", ErrRequestRejected)
	ErrTransmit            = errors.New("modbus: transmit failed")
	ErrNoReply             = errors.New("modbus: no reply")
	ErrBadCRC              = fmt.Errorf("%w: crc mismatch", ErrNoReply)
	ErrBufferOverflow      = errors.New("modbus: receive buffer overflow")
	ErrShortFrame          = errors.New("modbus: short frame")
	ErrUnsupportedFunction = errors.New("modbus: unsupported function code in response")
	ErrSlaveMismatch       = errors.New("modbus: response slave id does not match request")
	ErrFunctionMismatch    = errors.New("modbus: response function code does not match request")
	ErrInvalidByteCount    = errors.New("modbus: invalid byte count in response")
)

// ExceptionError is a valid, checksummed response in which the slave reports
// that it could not perform the request.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode&^ExceptionFlag)
}
