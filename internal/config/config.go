// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Master    MasterConfig    `mapstructure:"master"`
	Transport TransportConfig `mapstructure:"transport"`
	Image     ImageConfig     `mapstructure:"image"`
	Report    ReportConfig    `mapstructure:"report"`
	Jobs      []JobConfig     `mapstructure:"jobs"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// MasterConfig tunes the transaction engine.
type MasterConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`       // Response watchdog
	Silence      time.Duration `mapstructure:"silence"`       // End of frame quiet time, derived from baud rate when zero
	PollInterval time.Duration `mapstructure:"poll_interval"` // How often the scheduler polls
	RqstPause    time.Duration `mapstructure:"rqst_pause"`    // Pause between requests
}

// TransportConfig selects the line the master talks on.
type TransportConfig struct {
	Type   string       `mapstructure:"type"`   // "rtu", "rts", "rtu-over-tcp", "sim"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu" or "rts"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "rtu-over-tcp"
	Sim    SimConfig    `mapstructure:"sim"`    // Used if Type is "sim"
}

// SimConfig defines the in-process simulated slaves.
type SimConfig struct {
	SlaveIDs string        `mapstructure:"slave_ids"`
	Latency  time.Duration `mapstructure:"latency"`
}

// ImageConfig defines the register image jobs read into and write from.
type ImageConfig struct {
	Size        int               `mapstructure:"size"` // In 16-bit words
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// ReportConfig defines the status snapshot.
type ReportConfig struct {
	Path     string        `mapstructure:"path"` // Empty disables the report
	Interval time.Duration `mapstructure:"interval"`
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string        `mapstructure:"address"` // e.g. "192.168.1.100:4001"
	Timeout time.Duration `mapstructure:"timeout"` // Dial timeout
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read timeout of the background reader

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// JobConfig is one periodic query, repeated for every slave in SlaveIDs.
// Each slave gets its own window in the image, laid out back to back from
// Offset.
type JobConfig struct {
	Name     string        `mapstructure:"name"`
	SlaveIDs string        `mapstructure:"slave_ids"` // "1", "1,2", "1-10"
	Function byte          `mapstructure:"function"`
	Address  uint16        `mapstructure:"address"`
	Quantity uint16        `mapstructure:"quantity"`
	Offset   int           `mapstructure:"offset"` // First image word
	Interval time.Duration `mapstructure:"interval"`
}

// Flags registers the command line overrides understood by LoadConfig.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("type", "t", "", "Transport type (rtu, rts, rtu-over-tcp, sim).")
	fs.StringP("device", "p", "", "Serial port device name.")
	fs.IntP("baud_rate", "s", 0, "Serial port speed.")
	fs.StringP("address", "a", "", "Device server address for rtu-over-tcp.")
	fs.DurationP("timeout", "W", 0, "Response wait time.")
	fs.DurationP("rqst_pause", "R", 0, "Pause between requests.")
	fs.StringP("log_level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log_file", "L", "", "Log file name ('-' for logging to STDOUT only).")
}

var flagKeys = map[string]string{
	"type":       "transport.type",
	"device":     "transport.serial.device",
	"baud_rate":  "transport.serial.baud_rate",
	"address":    "transport.tcp.address",
	"timeout":    "master.timeout",
	"rqst_pause": "master.rqst_pause",
	"log_level":  "log.level",
	"log_file":   "log.file",
}

// LoadConfig loads configuration from file. Flags that were set on fs take
// precedence over the file; fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusmaster/")
		v.AddConfigPath("$HOME/.modbusmaster")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("master.timeout", 1000*time.Millisecond)
	v.SetDefault("master.poll_interval", 2*time.Millisecond)
	v.SetDefault("master.rqst_pause", 20*time.Millisecond)
	v.SetDefault("transport.type", "rtu")
	v.SetDefault("image.size", 65536)
	v.SetDefault("image.persistence.type", "memory")
	v.SetDefault("report.interval", 10*time.Second)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Transport.Serial)
	fixupMaster(&config.Master, config.Transport)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 19200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}

func fixupMaster(m *MasterConfig, t TransportConfig) {
	if m.Timeout == 0 {
		m.Timeout = 1000 * time.Millisecond
	}
	if m.Silence == 0 {
		m.Silence = rtu.DefaultSilence * time.Millisecond
		if t.Type == "rtu" || t.Type == "rts" {
			m.Silence = time.Duration(rtu.SilenceMillis(t.Serial.BaudRate)) * time.Millisecond
		}
	}
	if m.PollInterval == 0 {
		m.PollInterval = 2 * time.Millisecond
	}
}
