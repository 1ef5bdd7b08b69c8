// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sim provides an in-process RTU line with a simulated slave behind
// it. Responses become visible according to a millisecond clock, so the
// master's silence and watchdog logic can be exercised without hardware.
package sim

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

// ErrEmpty is returned by ReadByte when no byte is available.
var ErrEmpty = errors.New("sim: no data available")

// Clock is a wrapping millisecond counter.
type Clock interface {
	Millis() uint32
}

type chunk struct {
	at   uint32
	data []byte
}

// Port is one end of a simulated serial line. A Port is safe for concurrent
// use.
type Port struct {
	// Latency is the delay, in ms, before the first response byte arrives.
	Latency uint32
	// Split, when positive, delivers the first Split response bytes and the
	// rest Gap ms later.
	Split int
	Gap   uint32
	// Echo makes every written byte appear on the receive side, as on a
	// two-wire line without receiver disable.
	Echo bool
	// Mutate, when set, may rewrite an encoded response before delivery.
	// Returning nil suppresses the response.
	Mutate func(adu []byte) []byte

	clock  Clock
	slaves map[byte]*Slave

	mu      sync.Mutex
	rx      []byte
	pending []chunk
	written [][]byte
}

// NewPort creates a line with slave id answering from model.
func NewPort(id byte, model *DataModel, clock Clock) *Port {
	p := &Port{
		clock:  clock,
		slaves: make(map[byte]*Slave),
	}
	p.AddSlave(id, model)
	return p
}

// AddSlave attaches another slave to the line.
func (p *Port) AddSlave(id byte, model *DataModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slaves[id] = NewSlave(model)
}

// Write accepts one complete request frame.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.written = append(p.written, append([]byte(nil), b...))
	if p.Echo {
		p.rx = append(p.rx, b...)
	}

	resp := p.respond(b)
	if resp == nil {
		return len(b), nil
	}
	now := p.clock.Millis()
	if p.Split > 0 && p.Split < len(resp) {
		p.pending = append(p.pending,
			chunk{at: now + p.Latency, data: resp[:p.Split]},
			chunk{at: now + p.Latency + p.Gap, data: resp[p.Split:]})
	} else {
		p.pending = append(p.pending, chunk{at: now + p.Latency, data: resp})
	}
	return len(b), nil
}

func (p *Port) respond(req []byte) []byte {
	n := len(req)
	if n < 4 {
		return nil
	}
	if crc.Checksum(req[:n-2]) != uint16(req[n-2])<<8|uint16(req[n-1]) {
		slog.Debug("sim slave dropped frame with bad crc", "request", hex.EncodeToString(req))
		return nil
	}
	pdu := modbus.ProtocolDataUnit{FunctionCode: req[1], Data: req[2 : n-2]}
	if req[0] == modbus.BroadcastID {
		for _, s := range p.slaves {
			s.Process(pdu)
		}
		return nil
	}
	slave, ok := p.slaves[req[0]]
	if !ok {
		return nil
	}

	pdu = slave.Process(pdu)
	adu := make([]byte, 0, len(pdu.Data)+4)
	adu = append(adu, req[0], pdu.FunctionCode)
	adu = append(adu, pdu.Data...)
	sum := crc.Checksum(adu)
	adu = append(adu, byte(sum>>8), byte(sum))
	if p.Mutate != nil {
		adu = p.Mutate(adu)
	}
	return adu
}

// Inject queues raw bytes that arrive delay ms from now.
func (p *Port) Inject(delay uint32, b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, chunk{at: p.clock.Millis() + delay, data: append([]byte(nil), b...)})
}

// due moves every chunk whose time has come to the receive buffer.
func (p *Port) due() {
	now := p.clock.Millis()
	kept := p.pending[:0]
	for _, c := range p.pending {
		if int32(now-c.at) >= 0 {
			p.rx = append(p.rx, c.data...)
		} else {
			kept = append(kept, c)
		}
	}
	p.pending = kept
}

func (p *Port) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.due()
	return len(p.rx)
}

func (p *Port) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.due()
	if len(p.rx) == 0 {
		return 0, ErrEmpty
	}
	b := p.rx[0]
	p.rx = p.rx[1:]
	return b, nil
}

// Written returns copies of every frame written so far.
func (p *Port) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

// Close discards any undelivered data.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = nil
	p.pending = nil
	return nil
}
