// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rts drives a half-duplex RS-485 transceiver whose driver enable
// is wired to the RTS line of an ordinary serial adapter.
package rts

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/transport"
)

const readTimeout = 100 * time.Millisecond

// Port is a serial line that switches RTS around every transmitted frame.
// It implements master.DirectionController.
type Port struct {
	*transport.Stream

	port       serial.Port
	txLevel    bool
	rxLevel    bool
	setupDelay time.Duration
	holdOver   time.Duration
	sleep      func(time.Duration)
}

// Open opens the device in cfg and leaves the transceiver receiving.
func Open(cfg config.SerialConfig) (*Port, error) {
	mode, err := serialMode(cfg)
	if err != nil {
		return nil, err
	}
	sp, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Device, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = readTimeout
	}
	if err := sp.SetReadTimeout(timeout); err != nil {
		sp.Close()
		return nil, fmt.Errorf("could not set read timeout on %s: %w", cfg.Device, err)
	}

	p := newPort(sp, cfg)
	if err := sp.SetRTS(p.rxLevel); err != nil {
		sp.Close()
		return nil, fmt.Errorf("could not set RTS on %s: %w", cfg.Device, err)
	}
	p.Stream = transport.NewStream(sp, transport.StreamOptions{})
	slog.Info("serial port opened", "device", cfg.Device, "baud", cfg.BaudRate, "rts", true)
	return p, nil
}

func newPort(sp serial.Port, cfg config.SerialConfig) *Port {
	return &Port{
		port:       sp,
		txLevel:    cfg.RtsHighDuringSend,
		rxLevel:    cfg.RtsHighAfterSend,
		setupDelay: cfg.DelayRtsBeforeSend,
		holdOver:   cfg.DelayRtsAfterSend,
		sleep:      time.Sleep,
	}
}

// SetTransmit enables the line driver, or waits for the last byte to leave
// the UART plus the hold-over time and then releases it.
func (p *Port) SetTransmit(on bool) error {
	if on {
		if err := p.port.SetRTS(p.txLevel); err != nil {
			return err
		}
		if p.setupDelay > 0 {
			p.sleep(p.setupDelay)
		}
		return nil
	}

	if err := p.port.Drain(); err != nil {
		return err
	}
	if p.holdOver > 0 {
		p.sleep(p.holdOver)
	}
	return p.port.SetRTS(p.rxLevel)
}

func serialMode(cfg config.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch strings.ToUpper(cfg.Parity) {
	case "", "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", cfg.StopBits)
	}
	return mode, nil
}

// PortInfo describes a serial device present on the host.
type PortInfo struct {
	Name        string
	Description string
	VID         string
	PID         string
	USB         bool
}

// ListPorts enumerates the serial devices on the host.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var result []PortInfo
	for _, port := range ports {
		result = append(result, PortInfo{
			Name:        port.Name,
			Description: port.Product,
			VID:         port.VID,
			PID:         port.PID,
			USB:         port.IsUSB,
		})
	}
	return result, nil
}
