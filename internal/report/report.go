// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package report periodically writes a YAML status snapshot of the master
// and its polling jobs.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/master"
)

// Source provides the data of a snapshot. *scheduler.Scheduler implements it.
type Source interface {
	Results() []scheduler.Result
	Stats() master.Stats
}

// Counters mirrors master.Stats.
type Counters struct {
	InFrames  uint64 `yaml:"in_frames"`
	OutFrames uint64 `yaml:"out_frames"`
	Errors    uint64 `yaml:"errors"`
}

// Snapshot is the document written to the report file.
type Snapshot struct {
	Time      time.Time          `yaml:"time"`
	Transport string             `yaml:"transport"`
	Counters  Counters           `yaml:"counters"`
	Jobs      []scheduler.Result `yaml:"jobs"`
}

// Writer writes snapshots of a Source to a file.
type Writer struct {
	Path      string
	Transport string
	Interval  time.Duration

	source Source
	now    func() time.Time
}

// NewWriter creates a Writer for src.
func NewWriter(path, transport string, interval time.Duration, src Source) *Writer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Writer{Path: path, Transport: transport, Interval: interval, source: src, now: time.Now}
}

// Take captures the current state of the source.
func (w *Writer) Take() Snapshot {
	st := w.source.Stats()
	return Snapshot{
		Time:      w.now(),
		Transport: w.Transport,
		Counters:  Counters{InFrames: st.InFrames, OutFrames: st.OutFrames, Errors: st.Errors},
		Jobs:      w.source.Results(),
	}
}

// Write marshals a snapshot and replaces the report file atomically.
func (w *Writer) Write() error {
	data, err := yaml.Marshal(w.Take())
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.Path), ".report-*")
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write report: %w", err)
	}
	return os.Rename(tmp.Name(), w.Path)
}

// Run writes a snapshot every Interval and a final one when ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := w.Write(); err != nil {
				slog.Error("Failed to write final report", "path", w.Path, "err", err)
			}
			return nil
		case <-ticker.C:
			if err := w.Write(); err != nil {
				slog.Error("Failed to write report", "path", w.Path, "err", err)
			}
		}
	}
}
