// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport turns blocking byte streams into the non-blocking port
// capability the RTU master polls.
package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
)

// DefaultQueueSize bounds the bytes buffered between two polls. It is larger
// than an RTU frame so an oversized burst still reaches the master, which
// reports it as an overflow.
const DefaultQueueSize = 1024

// ErrNoData is returned by ReadByte when nothing is buffered.
var ErrNoData = errors.New("transport: no data available")

// StreamOptions configures a Stream.
type StreamOptions struct {
	// QueueSize is the receive queue capacity. Zero means DefaultQueueSize.
	QueueSize int
	// IsTimeout reports whether a read error is only a read timeout, after
	// which reading continues. Net and os deadline errors are always
	// treated as timeouts.
	IsTimeout func(error) bool
}

// Stream wraps an io.ReadWriteCloser with a background reader. Received
// bytes are queued and handed out by Available and ReadByte, neither of
// which blocks. Write goes straight to the underlying stream.
type Stream struct {
	rwc       io.ReadWriteCloser
	isTimeout func(error) bool
	limit     int

	mu      sync.Mutex
	queue   []byte
	dropped uint64
	err     error
	closed  bool

	done chan struct{}
}

// NewStream starts reading rwc in the background.
func NewStream(rwc io.ReadWriteCloser, opts StreamOptions) *Stream {
	s := &Stream{
		rwc:       rwc,
		isTimeout: opts.IsTimeout,
		limit:     opts.QueueSize,
		done:      make(chan struct{}),
	}
	if s.limit <= 0 {
		s.limit = DefaultQueueSize
	}
	go s.readLoop()
	return s
}

func (s *Stream) timeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return s.isTimeout != nil && s.isTimeout(err)
}

func (s *Stream) readLoop() {
	defer close(s.done)
	buf := make([]byte, 256)

	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			s.push(buf[:n])
		}
		if err == nil {
			continue
		}
		if s.isClosed() {
			return
		}
		if s.timeout(err) {
			continue
		}

		slog.Error("transport read failed", "err", err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return
	}
}

func (s *Stream) push(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.limit - len(s.queue)
	if room < len(b) {
		if room < 0 {
			room = 0
		}
		s.dropped += uint64(len(b) - room)
		slog.Warn("transport receive queue full, dropping bytes", "dropped", len(b)-room)
		b = b[:room]
	}
	s.queue = append(s.queue, b...)
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Write sends b on the underlying stream.
func (s *Stream) Write(b []byte) (int, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.rwc.Write(b)
}

// Available returns the number of queued bytes.
func (s *Stream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ReadByte pops one queued byte. It returns the reader's terminal error, if
// any, once the queue is empty.
func (s *Stream) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, ErrNoData
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = s.queue[:0:0]
	}
	return b, nil
}

// Dropped returns how many received bytes were discarded because the queue
// was full.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Err returns the error that stopped the reader, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the underlying stream and waits for the reader to stop.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.rwc.Close()
	<-s.done
	return err
}
