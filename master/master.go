// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master implements the master side of a Modbus RTU link as a
// non-blocking state machine: Query starts a transaction, Poll advances it.
//
// A Master is not safe for concurrent use. It is meant to be owned by one
// loop that calls Poll every few milliseconds; see rtu.Receiver for how the
// poll cadence relates to end-of-frame detection.
package master

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// DefaultTimeout is the response watchdog used when Options.Timeout is zero.
const DefaultTimeout = 1000 * time.Millisecond

// State of the single transaction slot.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting response"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Master.
type Options struct {
	// Timeout is the response watchdog. Zero means DefaultTimeout.
	Timeout time.Duration
	// Silence is the quiet time that ends a response frame. Zero means
	// rtu.DefaultSilence milliseconds.
	Silence time.Duration
	// Clock defaults to a SystemClock.
	Clock Clock
}

// Stats are diagnostic counters. They never influence a transaction.
type Stats struct {
	InFrames  uint64
	OutFrames uint64
	Errors    uint64
}

// Master issues one query at a time over a Port.
type Master struct {
	port    Port
	clock   Clock
	timeout uint32

	state    State
	frame    rtu.Frame
	receiver rtu.Receiver

	// current transaction
	slaveID   byte
	function  byte
	registers []uint16
	sentAt    uint32

	stats   Stats
	lastErr error
}

// New returns an idle Master on port.
func New(port Port, opts Options) *Master {
	m := &Master{
		port:  port,
		clock: opts.Clock,
	}
	if m.clock == nil {
		m.clock = NewSystemClock()
	}
	m.SetTimeout(opts.Timeout)

	m.receiver.Silence = rtu.DefaultSilence
	if opts.Silence > 0 {
		m.receiver.Silence = millis(opts.Silence)
	}
	return m
}

// millis rounds d up to whole milliseconds, so a positive duration never
// becomes zero.
func millis(d time.Duration) uint32 {
	return uint32((d + time.Millisecond - 1) / time.Millisecond)
}

// SetTimeout changes the response watchdog. Zero restores DefaultTimeout.
func (m *Master) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	m.timeout = millis(d)
}

// Timeout returns the response watchdog.
func (m *Master) Timeout() time.Duration {
	return time.Duration(m.timeout) * time.Millisecond
}

// Query encodes req and transmits it. It is only accepted while the master
// is idle; rejections wrap modbus.ErrRequestRejected and leave any running
// transaction untouched.
//
// req.Registers is retained until the transaction resolves: read responses
// are decoded into it.
func (m *Master) Query(req rtu.Request) error {
	if m.state != StateIdle {
		return modbus.ErrNotIdle
	}
	if req.SlaveID == modbus.BroadcastID {
		return modbus.ErrInvalidSlaveID
	}
	if err := req.Encode(&m.frame); err != nil {
		return err
	}

	if err := m.transmit(m.frame.Bytes()); err != nil {
		m.stats.Errors++
		m.lastErr = fmt.Errorf("%w: %w", modbus.ErrTransmit, err)
		return m.lastErr
	}
	m.flush()

	m.slaveID = req.SlaveID
	m.function = req.FunctionCode
	m.registers = req.Registers
	m.sentAt = m.clock.Millis()
	m.receiver.Reset()
	m.frame.Reset()
	m.state = StateAwaitingResponse
	m.lastErr = nil
	m.stats.OutFrames++
	return nil
}

func (m *Master) transmit(adu []byte) (err error) {
	if dc, ok := m.port.(DirectionController); ok {
		if err = dc.SetTransmit(true); err != nil {
			return err
		}
		defer func() {
			if e := dc.SetTransmit(false); err == nil {
				err = e
			}
		}()
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(adu))
	_, err = m.port.Write(adu)
	return err
}

// flush discards whatever is already buffered, such as the local echo of a
// two-wire line.
func (m *Master) flush() {
	for n := m.port.Available(); n > 0; n-- {
		if _, err := m.port.ReadByte(); err != nil {
			return
		}
	}
}

// Poll advances the running transaction without blocking.
//
// It returns (0, nil) while idle or while the response is still pending.
// When the transaction succeeds it returns the response frame size; when it
// fails it returns the error. Either way the master is idle again.
//
// The watchdog is checked before the receive buffer, so a response that
// completes in the same poll the watchdog expires is reported as
// modbus.ErrNoReply.
func (m *Master) Poll() (int, error) {
	if m.state == StateIdle {
		return 0, nil
	}

	now := m.clock.Millis()
	if now-m.sentAt > m.timeout {
		return 0, m.fail(modbus.ErrNoReply)
	}

	if !m.receiver.Sample(m.port.Available(), now) {
		return 0, nil
	}

	err := m.receiver.Drain(m.port, &m.frame)
	m.stats.InFrames++
	if err != nil {
		return 0, m.fail(err)
	}

	adu := m.frame.Bytes()
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(adu))
	if len(adu) < rtu.MinSize {
		return 0, m.fail(modbus.ErrShortFrame)
	}
	if err := rtu.Validate(adu); err != nil {
		return 0, m.fail(err)
	}
	if rtu.SlaveID(adu) != m.slaveID {
		return 0, m.fail(modbus.ErrSlaveMismatch)
	}

	function := rtu.FunctionCode(adu)
	if function != m.function {
		return 0, m.fail(modbus.ErrFunctionMismatch)
	}
	switch {
	case modbus.IsRegisterRead(function):
		_, err = rtu.DecodeRegisters(adu, m.registers)
	case modbus.IsBitRead(function):
		_, err = rtu.DecodeBits(adu, m.registers)
	}
	if err != nil {
		return 0, m.fail(err)
	}

	m.finish()
	return len(adu), nil
}

func (m *Master) fail(err error) error {
	slog.Debug("modbus transaction failed", "slaveID", m.slaveID, "func", m.function, "err", err)
	m.stats.Errors++
	m.lastErr = err
	m.finish()
	return err
}

func (m *Master) finish() {
	m.state = StateIdle
	m.registers = nil
}

// State returns the transaction state.
func (m *Master) State() State {
	return m.state
}

// Stats returns the diagnostic counters.
func (m *Master) Stats() Stats {
	return m.stats
}

// LastError returns the error that ended the last transaction, or nil if
// it succeeded or is still running.
func (m *Master) LastError() error {
	return m.lastErr
}

// TimedOut reports whether more than the watchdog time has passed since the
// last transmission.
func (m *Master) TimedOut() bool {
	return m.clock.Millis()-m.sentAt > m.timeout
}
