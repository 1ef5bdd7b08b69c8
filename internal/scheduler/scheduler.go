// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package scheduler drives a master through the configured polling jobs,
// one outstanding query at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/image"
	"github.com/ffutop/modbus-master/master"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Result summarises the outcomes of one job against one slave.
type Result struct {
	Job         string    `yaml:"job"`
	SlaveID     byte      `yaml:"slave_id"`
	Function    string    `yaml:"function"`
	Successes   uint64    `yaml:"successes"`
	Failures    uint64    `yaml:"failures"`
	LastSuccess time.Time `yaml:"last_success,omitempty"`
	LastError   string    `yaml:"last_error,omitempty"`
}

// task is a job expanded for a single slave.
type task struct {
	req    rtu.Request
	offset int
	every  time.Duration
	next   time.Time
	result Result
}

// Options tunes the scheduling loop.
type Options struct {
	// PollInterval is how often Run advances the master.
	PollInterval time.Duration
	// Pause is the minimum gap between the end of one transaction and the
	// start of the next.
	Pause time.Duration
}

// Scheduler owns the master; nothing else may call it while Run is active.
type Scheduler struct {
	master *master.Master
	image  *image.Image
	opts   Options

	tasks   []*task
	current *task
	cursor  int
	idleAt  time.Time

	mu      sync.Mutex
	results []Result
	stats   master.Stats
}

// New expands jobs into per-slave tasks whose register storage are windows
// of im.
func New(m *master.Master, im *image.Image, jobs []config.JobConfig, opts Options) (*Scheduler, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Millisecond
	}
	s := &Scheduler{master: m, image: im, opts: opts}

	for i, job := range jobs {
		ids, err := config.ParseSlaveIDs(job.SlaveIDs)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		name := job.Name
		if name == "" {
			name = fmt.Sprintf("job%d", i)
		}

		words := job.Words()
		for n, id := range ids {
			offset := job.Offset + n*words
			regs, err := im.Window(offset, words)
			if err != nil {
				return nil, fmt.Errorf("job %s slave %d: %w", name, id, err)
			}
			s.tasks = append(s.tasks, &task{
				req: rtu.Request{
					SlaveID:      id,
					FunctionCode: job.Function,
					Address:      job.Address,
					Quantity:     job.Quantity,
					Registers:    regs,
				},
				offset: offset,
				every:  job.Interval,
				result: Result{Job: name, SlaveID: id, Function: modbus.FunctionName(job.Function)},
			})
		}
	}
	s.results = make([]Result, len(s.tasks))
	for i, t := range s.tasks {
		s.results[i] = t.result
	}
	return s, nil
}

// Run steps the scheduler every PollInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Starting scheduler", "tasks", len(s.tasks), "pollInterval", s.opts.PollInterval)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

// Step advances the running transaction, or starts the next due task when
// the master is idle.
func (s *Scheduler) Step(now time.Time) {
	defer s.snapshot()

	if s.current != nil {
		n, err := s.master.Poll()
		if n == 0 && err == nil {
			return
		}
		s.complete(s.current, now, err)
		s.current = nil
		s.idleAt = now
		return
	}

	if now.Sub(s.idleAt) < s.opts.Pause {
		return
	}
	t := s.nextDue(now)
	if t == nil {
		return
	}
	t.next = now.Add(t.every)
	if err := s.master.Query(t.req); err != nil {
		s.complete(t, now, err)
		s.idleAt = now
		return
	}
	s.current = t
}

// nextDue picks tasks round robin so a short interval cannot starve others.
func (s *Scheduler) nextDue(now time.Time) *task {
	for i := 0; i < len(s.tasks); i++ {
		t := s.tasks[(s.cursor+i)%len(s.tasks)]
		if !now.Before(t.next) {
			s.cursor = (s.cursor + i + 1) % len(s.tasks)
			return t
		}
	}
	return nil
}

func (s *Scheduler) complete(t *task, now time.Time, err error) {
	if err != nil {
		t.result.Failures++
		t.result.LastError = err.Error()
		slog.Warn("modbus job failed", "job", t.result.Job, "slaveID", t.req.SlaveID, "func", t.req.FunctionCode, "err", err)
		return
	}

	t.result.Successes++
	t.result.LastSuccess = now
	t.result.LastError = ""
	if modbus.IsRead(t.req.FunctionCode) {
		s.image.OnWrite(t.offset, len(t.req.Registers))
	}
}

func (s *Scheduler) snapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		s.results[i] = t.result
	}
	s.stats = s.master.Stats()
}

// Results returns the per-task results. It is safe to call while Run is
// active.
func (s *Scheduler) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}

// Stats returns the master counters as of the last step. It is safe to call
// while Run is active.
func (s *Scheduler) Stats() master.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
