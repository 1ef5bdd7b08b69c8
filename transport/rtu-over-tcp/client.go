// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries raw RTU frames, checksum included, over a TCP
// connection to a serial device server.
package rtuovertcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ffutop/modbus-master/transport"
)

const (
	tcpTimeout = 10 * time.Second
)

// Client is a TCP connection to a device server.
type Client struct {
	*transport.Stream

	Address string
	conn    net.Conn
}

// Dial connects to address. A zero timeout means 10 seconds.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to connect to %s: %w", address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Frames are written whole; do not hold them back.
		tcp.SetNoDelay(true)
	}
	slog.Info("connected to device server", "address", address)

	return &Client{
		Stream:  transport.NewStream(conn, transport.StreamOptions{}),
		Address: address,
		conn:    conn,
	}, nil
}

// Write sends one frame, giving up after the dial timeout.
func (mb *Client) Write(b []byte) (int, error) {
	if err := mb.conn.SetWriteDeadline(time.Now().Add(tcpTimeout)); err != nil {
		return 0, err
	}
	return mb.Stream.Write(b)
}
