// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu opens a serial line for the RTU master. Transmit direction on
// RS-485 adapters is handled by the kernel driver.
package rtu

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/transport"
)

const (
	// Read timeout of the background reader.
	serialReadTimeout = 100 * time.Millisecond
)

// Port is a serial line with a background reader.
type Port struct {
	*transport.Stream

	// Serial port configuration.
	serial.Config
}

// Open opens the serial device described by cfg.
func Open(cfg config.SerialConfig) (*Port, error) {
	sc := serialConfig(cfg)
	port, err := serial.Open(&sc)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", sc.Address, err)
	}
	slog.Info("serial port opened", "device", sc.Address, "baud", sc.BaudRate, "rs485", sc.RS485.Enabled)

	return &Port{
		Stream: transport.NewStream(port, transport.StreamOptions{IsTimeout: isTimeout}),
		Config: sc,
	}, nil
}

// serialConfig maps the configuration onto grid-x/serial. The RS-485
// hold-over after the last stop bit is DelayRtsAfterSend.
func serialConfig(cfg config.SerialConfig) serial.Config {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = serialReadTimeout
	}
	return serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  timeout,
		RS485: serial.RS485Config{
			Enabled:            cfg.RS485,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		},
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, serial.ErrTimeout)
}
