// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package image holds the register image: one flat array of 16-bit words
// that polling jobs read into and write from. Every job owns a window of
// it, which serves as the caller storage of its queries.
package image

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-master/internal/config"
)

// DefaultSize is the image size in words when none is configured.
const DefaultSize = 65536

// Image is not safe for concurrent use.
type Image struct {
	words   []uint16
	storage Storage
}

// Open creates the image described by cfg.
func Open(cfg config.ImageConfig) (*Image, error) {
	var storage Storage
	switch cfg.Persistence.Type {
	case "file":
		slog.Info("Initializing register image with file persistence", "path", cfg.Persistence.Path)
		storage = NewFileStorage(cfg.Persistence.Path)
	case "mmap":
		slog.Info("Initializing register image with MMAP persistence", "path", cfg.Persistence.Path)
		storage = NewMmapStorage(cfg.Persistence.Path)
	case "", "memory":
		slog.Info("Initializing register image with memory storage (non-persistent)")
		storage = NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unknown image persistence type %q", cfg.Persistence.Type)
	}

	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	return New(size, storage)
}

// New loads an image of size words from storage.
func New(size int, storage Storage) (*Image, error) {
	words, err := storage.Load(size)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return &Image{words: words, storage: storage}, nil
}

// Size returns the number of words.
func (im *Image) Size() int {
	return len(im.words)
}

// Window returns words [offset, offset+n). The slice aliases the image and
// its capacity ends with the window.
func (im *Image) Window(offset, n int) ([]uint16, error) {
	if offset < 0 || n < 0 || offset+n > len(im.words) {
		return nil, fmt.Errorf("window [%d, %d) outside image of %d words", offset, offset+n, len(im.words))
	}
	return im.words[offset : offset+n : offset+n], nil
}

// OnWrite persists words [offset, offset+n) after they were updated.
func (im *Image) OnWrite(offset, n int) {
	if err := im.storage.Flush(offset, n); err != nil {
		slog.Error("Failed to persist register image", "offset", offset, "words", n, "err", err)
	}
}

// Close releases the backing storage.
func (im *Image) Close() error {
	im.words = nil
	return im.storage.Close()
}
