// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package image

import "unsafe"

// Storage defines how the register image is backed and persisted.
type Storage interface {
	// Load returns size words of backing memory, holding whatever was
	// persisted before.
	Load(size int) ([]uint16, error)

	// Flush persists words [offset, offset+n) of the slice returned by Load.
	Flush(offset, n int) error

	Close() error
}

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load(size int) ([]uint16, error) {
	return make([]uint16, size), nil
}

func (ms *MemoryStorage) Flush(offset, n int) error {
	return nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}

// bytesToWords views data as 16-bit words.
// Warning: This uses unsafe pointers, so the words are stored in the host's
// byte order. An image file is not portable across architectures with
// different endianness.
func bytesToWords(data []byte) []uint16 {
	if len(data) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), len(data)/2)
}
