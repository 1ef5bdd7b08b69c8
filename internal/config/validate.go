// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// ParseSlaveIDs parses a string of slave IDs (e.g. "1,2,5-10") into a slice of bytes.
// Only unicast addresses 1-247 are accepted.
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		start, end, err := parseRange(part)
		if err != nil {
			return nil, err
		}
		for i := start; i <= end; i++ {
			if i < 1 || i > modbus.MaxSlaveID {
				return nil, fmt.Errorf("id out of range: %d", i)
			}
			ids = append(ids, byte(i))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no slave ids in %q", input)
	}
	return ids, nil
}

func parseRange(part string) (int, int, error) {
	if !strings.Contains(part, "-") {
		id, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid id: %w", err)
		}
		return id, id, nil
	}

	ranges := strings.Split(part, "-")
	if len(ranges) != 2 {
		return 0, 0, fmt.Errorf("invalid range: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start of range: %w", err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end of range: %w", err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("start of range %d is greater than end %d", start, end)
	}
	return start, end, nil
}

// Words returns how many image words one slave's window of the job takes.
func (j JobConfig) Words() int {
	switch j.Function {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs, modbus.FuncCodeWriteMultipleCoils:
		return ((int(j.Quantity)+7)/8 + 1) / 2
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		return 1
	}
	return int(j.Quantity)
}

// Validate checks the settings that cannot be fixed up.
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case "rtu", "rts":
		if c.Transport.Serial.Device == "" {
			return fmt.Errorf("transport %s: no serial device configured", c.Transport.Type)
		}
	case "rtu-over-tcp":
		if c.Transport.Tcp.Address == "" {
			return fmt.Errorf("transport rtu-over-tcp: no address configured")
		}
	case "sim":
		if _, err := ParseSlaveIDs(c.Transport.Sim.SlaveIDs); err != nil {
			return fmt.Errorf("transport sim: %w", err)
		}
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}

	switch c.Image.Persistence.Type {
	case "memory":
	case "file", "mmap":
		if c.Image.Persistence.Path == "" {
			return fmt.Errorf("image persistence %s: no path configured", c.Image.Persistence.Type)
		}
	default:
		return fmt.Errorf("unknown image persistence type %q", c.Image.Persistence.Type)
	}
	if c.Image.Size <= 0 {
		return fmt.Errorf("image size must be positive, got %d", c.Image.Size)
	}

	for i, job := range c.Jobs {
		if err := c.validateJob(job); err != nil {
			name := job.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateJob(job JobConfig) error {
	ids, err := ParseSlaveIDs(job.SlaveIDs)
	if err != nil {
		return err
	}

	// Request.Validate enforces the per-function quantity limits.
	words := job.Words()
	req := rtu.Request{
		SlaveID:      ids[0],
		FunctionCode: job.Function,
		Address:      job.Address,
		Quantity:     job.Quantity,
		Registers:    make([]uint16, words),
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if job.Offset < 0 || job.Offset+len(ids)*words > c.Image.Size {
		return fmt.Errorf("image window [%d, %d) outside image of %d words", job.Offset, job.Offset+len(ids)*words, c.Image.Size)
	}
	return nil
}
