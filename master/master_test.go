// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
	"github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport/sim"
)

type fakeClock struct {
	ms uint32
}

func (c *fakeClock) Millis() uint32 { return c.ms }

func newTestMaster(t *testing.T, start uint32) (*Master, *sim.Port, *sim.DataModel, *fakeClock) {
	t.Helper()
	clock := &fakeClock{ms: start}
	model := sim.NewDataModel()
	port := sim.NewPort(1, model, clock)
	port.Latency = 2
	m := New(port, Options{Timeout: 100 * time.Millisecond, Clock: clock})
	return m, port, model, clock
}

// run polls once per simulated millisecond until the transaction resolves.
func run(t *testing.T, m *Master, clock *fakeClock) (int, error) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		clock.ms++
		n, err := m.Poll()
		if n > 0 || err != nil {
			return n, err
		}
	}
	t.Fatal("transaction never resolved")
	return 0, nil
}

func withCRC(b ...byte) []byte {
	sum := crc.Checksum(b)
	return append(b, byte(sum>>8), byte(sum))
}

func TestMaster_ReadHoldingRegisters(t *testing.T) {
	m, port, model, clock := newTestMaster(t, 0)
	for i := 0; i < 10; i++ {
		model.HoldingRegisters[100+i] = uint16(0x1000 + i)
	}

	regs := make([]uint16, 10)
	err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 100, Quantity: 10, Registers: regs})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if m.State() != StateAwaitingResponse {
		t.Fatalf("state = %v, want %v", m.State(), StateAwaitingResponse)
	}

	n, err := run(t, m, clock)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != 3+20+2 {
		t.Errorf("response size = %d, want 25", n)
	}
	want := []uint16{0x1000, 0x1001, 0x1002, 0x1003, 0x1004, 0x1005, 0x1006, 0x1007, 0x1008, 0x1009}
	if diff := cmp.Diff(want, regs); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle", m.State())
	}

	wantReq := withCRC(0x01, 0x03, 0x00, 0x64, 0x00, 0x0A)
	if diff := cmp.Diff([][]byte{wantReq}, port.Written()); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{InFrames: 1, OutFrames: 1}, m.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestMaster_PollIdle(t *testing.T) {
	m, port, _, clock := newTestMaster(t, 0)
	for i := 0; i < 5; i++ {
		clock.ms += 500
		if n, err := m.Poll(); n != 0 || err != nil {
			t.Fatalf("Poll while idle = (%d, %v), want (0, nil)", n, err)
		}
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle", m.State())
	}
	if diff := cmp.Diff(Stats{}, m.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if m.LastError() != nil {
		t.Errorf("LastError = %v, want nil", m.LastError())
	}
	if n := len(port.Written()); n != 0 {
		t.Errorf("%d frames written while idle, want 0", n)
	}
}

// A frame that is complete when the watchdog expires is still reported as
// no reply.
func TestMaster_WatchdogBeatsLateFrame(t *testing.T) {
	m, port, _, clock := newTestMaster(t, 0)
	port.Latency = 95
	regs := make([]uint16, 2)
	if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 2, Registers: regs}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	clock.ms = 95
	if n, err := m.Poll(); n != 0 || err != nil {
		t.Fatalf("Poll on arrival = (%d, %v), want pending", n, err)
	}
	if port.Available() == 0 {
		t.Fatal("response not delivered")
	}

	// Quiet for longer than the silence interval, but past the watchdog.
	clock.ms = 101
	n, err := m.Poll()
	if n != 0 || !errors.Is(err, modbus.ErrNoReply) {
		t.Fatalf("Poll after timeout = (%d, %v), want ErrNoReply", n, err)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle", m.State())
	}
	if m.Stats().Errors != 1 {
		t.Errorf("errors = %d, want 1", m.Stats().Errors)
	}
}

func TestMaster_ResponseTimeout(t *testing.T) {
	for _, start := range []uint32{0, 0xFFFFFFF0} {
		m, _, _, clock := newTestMaster(t, start)
		regs := make([]uint16, 1)
		// No device answers slave 9.
		if err := m.Query(rtu.Request{SlaveID: 9, FunctionCode: modbus.FuncCodeReadInputRegisters, Quantity: 1, Registers: regs}); err != nil {
			t.Fatalf("Query failed: %v", err)
		}

		clock.ms = start + 100
		if n, err := m.Poll(); n != 0 || err != nil {
			t.Fatalf("start %#x: Poll at timeout = (%d, %v), want pending", start, n, err)
		}
		if m.TimedOut() {
			t.Errorf("start %#x: TimedOut at exactly the timeout", start)
		}

		clock.ms = start + 101
		if !m.TimedOut() {
			t.Errorf("start %#x: TimedOut = false after the timeout", start)
		}
		if _, err := m.Poll(); !errors.Is(err, modbus.ErrNoReply) {
			t.Fatalf("start %#x: Poll after timeout = %v, want ErrNoReply", start, err)
		}
		if n, err := m.Poll(); n != 0 || err != nil {
			t.Errorf("start %#x: second Poll = (%d, %v), want (0, nil)", start, n, err)
		}
		if m.Stats().Errors != 1 {
			t.Errorf("start %#x: errors = %d, want 1", start, m.Stats().Errors)
		}
	}
}

func TestMaster_SplitResponse(t *testing.T) {
	tests := []struct {
		name    string
		split   int
		gap     uint32
		wantErr error
	}{
		{"gap shorter than silence", 3, 3, nil},
		{"gap longer than silence", 3, 10, modbus.ErrShortFrame},
		// The first six bytes are judged on their own and fail the checksum.
		{"minimum size first chunk", 6, 10, modbus.ErrBadCRC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, port, model, clock := newTestMaster(t, 0)
			model.HoldingRegisters[0] = 0xBEEF
			port.Split = tt.split
			port.Gap = tt.gap

			regs := make([]uint16, 2)
			if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 2, Registers: regs}); err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			_, err := run(t, m, clock)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && regs[0] != 0xBEEF {
				t.Errorf("regs[0] = %#04x, want 0xBEEF", regs[0])
			}
		})
	}
}

func TestMaster_ReadCoilsMinimumFrame(t *testing.T) {
	m, _, model, clock := newTestMaster(t, 0)
	model.Coils[7] = 1

	regs := []uint16{0xAA00}
	if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadCoils, Address: 7, Quantity: 1, Registers: regs}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	n, err := run(t, m, clock)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != rtu.MinSize {
		t.Errorf("response size = %d, want %d", n, rtu.MinSize)
	}
	// The high half of the register is not touched by a single status byte.
	if regs[0] != 0xAA01 {
		t.Errorf("regs[0] = %#04x, want 0xAA01", regs[0])
	}
}

func TestMaster_ExceptionResponse(t *testing.T) {
	t.Run("five byte frame is short", func(t *testing.T) {
		m, _, _, clock := newTestMaster(t, 0)
		regs := make([]uint16, 10)
		// Out of range, the slave answers with a 5 byte exception.
		if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 0xFFFF, Quantity: 10, Registers: regs}); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if _, err := run(t, m, clock); !errors.Is(err, modbus.ErrShortFrame) {
			t.Fatalf("err = %v, want ErrShortFrame", err)
		}
	})

	t.Run("padded frame", func(t *testing.T) {
		m, port, _, clock := newTestMaster(t, 0)
		port.Mutate = func(adu []byte) []byte {
			return withCRC(adu[0], adu[1], adu[2], 0x00)
		}
		regs := make([]uint16, 10)
		if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 0xFFFF, Quantity: 10, Registers: regs}); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		_, err := run(t, m, clock)
		var exc *modbus.ExceptionError
		if !errors.As(err, &exc) {
			t.Fatalf("err = %v, want *ExceptionError", err)
		}
		if exc.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
			t.Errorf("exception code = %d, want %d", exc.ExceptionCode, modbus.ExceptionCodeIllegalDataAddress)
		}
	})
}

func TestMaster_CorruptResponse(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "bad crc",
			mutate:  func(adu []byte) []byte { adu[len(adu)-1] ^= 0xFF; return adu },
			wantErr: modbus.ErrBadCRC,
		},
		{
			name: "other slave",
			mutate: func(adu []byte) []byte {
				return withCRC(append([]byte{0x02}, adu[1:len(adu)-2]...)...)
			},
			wantErr: modbus.ErrSlaveMismatch,
		},
		{
			name: "other function",
			mutate: func(adu []byte) []byte {
				return withCRC(append([]byte{adu[0], modbus.FuncCodeReadInputRegisters}, adu[2:len(adu)-2]...)...)
			},
			wantErr: modbus.ErrFunctionMismatch,
		},
		{
			name: "odd byte count",
			mutate: func(adu []byte) []byte {
				return withCRC(adu[0], adu[1], 0x03, 0x00, 0x01, 0x02)
			},
			wantErr: modbus.ErrInvalidByteCount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, port, _, clock := newTestMaster(t, 0)
			port.Mutate = tt.mutate
			regs := make([]uint16, 2)
			if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 2, Registers: regs}); err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			_, err := run(t, m, clock)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(m.LastError(), tt.wantErr) {
				t.Errorf("LastError = %v, want %v", m.LastError(), tt.wantErr)
			}
		})
	}
}

func TestMaster_BadCRCIsNoReply(t *testing.T) {
	if !errors.Is(modbus.ErrBadCRC, modbus.ErrNoReply) {
		t.Fatal("ErrBadCRC does not match ErrNoReply")
	}
}

func TestMaster_BufferOverflow(t *testing.T) {
	m, port, _, clock := newTestMaster(t, 0)
	regs := make([]uint16, 1)
	if err := m.Query(rtu.Request{SlaveID: 9, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 1, Registers: regs}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	port.Inject(1, make([]byte, rtu.MaxSize+1))

	if _, err := run(t, m, clock); !errors.Is(err, modbus.ErrBufferOverflow) {
		t.Fatalf("err = %v, want ErrBufferOverflow", err)
	}
	if port.Available() != 0 {
		t.Errorf("%d bytes left after overflow", port.Available())
	}
}

func TestMaster_QueryRejected(t *testing.T) {
	m, port, _, _ := newTestMaster(t, 0)
	regs := make([]uint16, 4)

	tests := []struct {
		name    string
		req     rtu.Request
		wantErr error
	}{
		{"broadcast read", rtu.Request{SlaveID: 0, FunctionCode: modbus.FuncCodeReadCoils, Quantity: 1, Registers: regs}, modbus.ErrInvalidSlaveID},
		{"broadcast write", rtu.Request{SlaveID: 0, FunctionCode: modbus.FuncCodeWriteSingleRegister, Registers: regs}, modbus.ErrInvalidSlaveID},
		{"slave out of range", rtu.Request{SlaveID: 248, FunctionCode: modbus.FuncCodeReadCoils, Quantity: 1, Registers: regs}, modbus.ErrInvalidSlaveID},
		{"unsupported function", rtu.Request{SlaveID: 1, FunctionCode: 0x07, Quantity: 1, Registers: regs}, modbus.ErrInvalidFunction},
		{"storage too small", rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 5, Registers: regs}, modbus.ErrStorageTooSmall},
	}
	for _, tt := range tests {
		err := m.Query(tt.req)
		if !errors.Is(err, tt.wantErr) || !errors.Is(err, modbus.ErrRequestRejected) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
	if len(port.Written()) != 0 {
		t.Errorf("rejected queries wrote %d frames", len(port.Written()))
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle", m.State())
	}
}

func TestMaster_QueryWhileBusy(t *testing.T) {
	m, port, model, clock := newTestMaster(t, 0)
	model.InputRegisters[3] = 42

	regs := make([]uint16, 1)
	if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadInputRegisters, Address: 3, Quantity: 1, Registers: regs}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	other := make([]uint16, 1)
	err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadInputRegisters, Quantity: 1, Registers: other})
	if !errors.Is(err, modbus.ErrNotIdle) || !errors.Is(err, modbus.ErrRequestRejected) {
		t.Fatalf("second Query = %v, want ErrNotIdle", err)
	}
	if len(port.Written()) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(port.Written()))
	}

	if _, err := run(t, m, clock); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if regs[0] != 42 {
		t.Errorf("regs[0] = %d, want 42", regs[0])
	}
}

func TestMaster_Writes(t *testing.T) {
	tests := []struct {
		name  string
		req   rtu.Request
		check func(*sim.DataModel) bool
	}{
		{
			name:  "single coil",
			req:   rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeWriteSingleCoil, Address: 20, Registers: []uint16{1}},
			check: func(d *sim.DataModel) bool { return d.Coils[20] == 1 },
		},
		{
			name:  "single register",
			req:   rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeWriteSingleRegister, Address: 7, Registers: []uint16{0x1234}},
			check: func(d *sim.DataModel) bool { return d.HoldingRegisters[7] == 0x1234 },
		},
		{
			name: "multiple coils",
			req:  rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeWriteMultipleCoils, Address: 19, Quantity: 10, Registers: []uint16{0x01CD}},
			check: func(d *sim.DataModel) bool {
				want := []byte{1, 0, 1, 1, 0, 0, 1, 1, 1, 0}
				return cmp.Equal(want, d.Coils[19:29])
			},
		},
		{
			name: "multiple registers",
			req:  rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeWriteMultipleRegisters, Address: 1, Quantity: 2, Registers: []uint16{0x000A, 0x0102}},
			check: func(d *sim.DataModel) bool {
				return d.HoldingRegisters[1] == 0x000A && d.HoldingRegisters[2] == 0x0102
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, model, clock := newTestMaster(t, 0)
			if err := m.Query(tt.req); err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			n, err := run(t, m, clock)
			if err != nil {
				t.Fatalf("Poll failed: %v", err)
			}
			if n != 8 {
				t.Errorf("response size = %d, want 8", n)
			}
			if !tt.check(model) {
				t.Error("slave memory not updated")
			}
		})
	}
}

func TestMaster_EchoFlushed(t *testing.T) {
	m, port, model, clock := newTestMaster(t, 0)
	port.Echo = true
	model.HoldingRegisters[0] = 7

	regs := make([]uint16, 1)
	if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 1, Registers: regs}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if port.Available() != 0 {
		t.Fatalf("%d echo bytes left after Query", port.Available())
	}
	if _, err := run(t, m, clock); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if regs[0] != 7 {
		t.Errorf("regs[0] = %d, want 7", regs[0])
	}
}

type directionPort struct {
	*sim.Port
	events []string
}

func (p *directionPort) SetTransmit(on bool) error {
	if on {
		p.events = append(p.events, "tx")
	} else {
		p.events = append(p.events, "rx")
	}
	return nil
}

func (p *directionPort) Write(b []byte) (int, error) {
	p.events = append(p.events, "write")
	return p.Port.Write(b)
}

func TestMaster_DirectionControl(t *testing.T) {
	clock := &fakeClock{}
	port := &directionPort{Port: sim.NewPort(1, sim.NewDataModel(), clock)}
	port.Latency = 2
	m := New(port, Options{Clock: clock})

	regs := make([]uint16, 1)
	if err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 1, Registers: regs}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if diff := cmp.Diff([]string{"tx", "write", "rx"}, port.events); diff != "" {
		t.Errorf("direction sequence mismatch (-want +got):\n%s", diff)
	}
	if _, err := run(t, m, clock); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
}

type brokenPort struct{}

func (brokenPort) Write([]byte) (int, error) { return 0, errors.New("device unplugged") }
func (brokenPort) Available() int            { return 0 }
func (brokenPort) ReadByte() (byte, error)   { return 0, sim.ErrEmpty }

func TestMaster_TransmitError(t *testing.T) {
	m := New(brokenPort{}, Options{Clock: &fakeClock{}})
	regs := make([]uint16, 1)
	err := m.Query(rtu.Request{SlaveID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Quantity: 1, Registers: regs})
	if !errors.Is(err, modbus.ErrTransmit) {
		t.Fatalf("err = %v, want ErrTransmit", err)
	}
	if errors.Is(err, modbus.ErrRequestRejected) {
		t.Error("transmit failure reported as rejection")
	}
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle", m.State())
	}
	if m.Stats().Errors != 1 || m.Stats().OutFrames != 0 {
		t.Errorf("stats = %+v", m.Stats())
	}
}

func TestMaster_Timeout(t *testing.T) {
	m := New(brokenPort{}, Options{})
	if m.Timeout() != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", m.Timeout(), DefaultTimeout)
	}
	m.SetTimeout(250 * time.Millisecond)
	if m.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout = %v, want 250ms", m.Timeout())
	}
	m.SetTimeout(0)
	if m.Timeout() != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", m.Timeout(), DefaultTimeout)
	}
	m.SetTimeout(1500 * time.Microsecond)
	if m.Timeout() != 2*time.Millisecond {
		t.Errorf("Timeout = %v, want 2ms", m.Timeout())
	}
}

func TestMaster_SubMillisecondOptions(t *testing.T) {
	m := New(brokenPort{}, Options{Timeout: 500 * time.Microsecond, Silence: 300 * time.Microsecond})
	if m.Timeout() != time.Millisecond {
		t.Errorf("Timeout = %v, want 1ms", m.Timeout())
	}
	if m.receiver.Silence != 1 {
		t.Errorf("silence = %d ms, want 1", m.receiver.Silence)
	}
}
