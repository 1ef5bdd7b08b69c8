// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/image"
	"github.com/ffutop/modbus-master/internal/report"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/master"
	"github.com/ffutop/modbus-master/transport/rts"
	"github.com/ffutop/modbus-master/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-master/transport/rtu-over-tcp"
	"github.com/ffutop/modbus-master/transport/sim"
)

// linePort is a master.Port that owns an open line.
type linePort interface {
	master.Port
	io.Closer
}

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.Flags(fs)
	listPorts := fs.Bool("list-ports", false, "List serial ports and exit.")
	fs.Parse(os.Args[1:])

	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Printf("Failed to list serial ports: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load Configuration
	configFile, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus Master...", "transport", cfg.Transport.Type, "jobs", len(cfg.Jobs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := master.NewSystemClock()
	port, err := openTransport(ctx, cfg.Transport, clock)
	if err != nil {
		slog.Error("Failed to open transport", "type", cfg.Transport.Type, "err", err)
		os.Exit(1)
	}
	defer port.Close()

	im, err := image.Open(cfg.Image)
	if err != nil {
		slog.Error("Failed to open register image", "err", err)
		os.Exit(1)
	}
	defer im.Close()

	m := master.New(port, master.Options{
		Timeout: cfg.Master.Timeout,
		Silence: cfg.Master.Silence,
		Clock:   clock,
	})
	sched, err := scheduler.New(m, im, cfg.Jobs, scheduler.Options{
		PollInterval: cfg.Master.PollInterval,
		Pause:        cfg.Master.RqstPause,
	})
	if err != nil {
		slog.Error("Failed to build jobs", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			slog.Error("Scheduler stopped with error", "err", err)
		}
	}()

	if cfg.Report.Path != "" {
		w := report.NewWriter(cfg.Report.Path, cfg.Transport.Type, cfg.Report.Interval, sched)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	st := sched.Stats()
	slog.Info("Goodbye.", "inFrames", st.InFrames, "outFrames", st.OutFrames, "errors", st.Errors)
}

func openTransport(ctx context.Context, cfg config.TransportConfig, clock *master.SystemClock) (linePort, error) {
	switch cfg.Type {
	case "rtu":
		return rtu.Open(cfg.Serial)
	case "rts":
		return rts.Open(cfg.Serial)
	case "rtu-over-tcp":
		return rtuovertcp.Dial(ctx, cfg.Tcp.Address, cfg.Tcp.Timeout)
	case "sim":
		return openSim(cfg.Sim, clock)
	}
	return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
}

func openSim(cfg config.SimConfig, clock *master.SystemClock) (*sim.Port, error) {
	ids, err := config.ParseSlaveIDs(cfg.SlaveIDs)
	if err != nil {
		return nil, err
	}
	port := sim.NewPort(ids[0], sim.NewDataModel(), clock)
	for _, id := range ids[1:] {
		port.AddSlave(id, sim.NewDataModel())
	}

	// The master discards input that arrives before it finished sending.
	port.Latency = uint32(cfg.Latency / time.Millisecond)
	if port.Latency < 2 {
		port.Latency = 2
	}
	slog.Info("Simulated line ready", "slaves", len(ids), "latency", port.Latency)
	return port, nil
}

func printPorts() error {
	ports, err := rts.ListPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.USB {
			fmt.Printf("%s\t%s (VID %s PID %s)\n", p.Name, p.Description, p.VID, p.PID)
		} else {
			fmt.Println(p.Name)
		}
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
