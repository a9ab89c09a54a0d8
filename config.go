package main

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sdrstream/pkg/fifo"
	"github.com/sdrstream/pkg/radio"
	"github.com/sdrstream/pkg/regs"
	"github.com/sdrstream/pkg/transport"
)

// Config is the complete program configuration.
type Config struct {
	Stream   StreamConfig   `yaml:"stream"`
	Radio    RadioConfig    `yaml:"radio"`
	Hardware HardwareConfig `yaml:"hardware"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Record   RecordConfig   `yaml:"record"`
	Log      LogConfig      `yaml:"log"`
}

// StreamConfig holds the UDP destination and capture loop settings.
type StreamConfig struct {
	DestIP   string `yaml:"destIp"`
	DestPort int    `yaml:"destPort"`
	Enabled  bool   `yaml:"enabled"`
	// SeqWrap is the sequence bound; 0 uses the full 16-bit range.
	SeqWrap       int `yaml:"seqWrap"`
	PollIdleUs    int `yaml:"pollIdleUs"`
	StopTimeoutMs int `yaml:"stopTimeoutMs"`
}

// RadioConfig holds the frequencies programmed at startup.
type RadioConfig struct {
	ADCHz   int64 `yaml:"adcHz"`
	TunerHz int64 `yaml:"tunerHz"`
}

// HardwareConfig selects the register backends.
type HardwareConfig struct {
	Sim       bool   `yaml:"sim"`
	MemDevice string `yaml:"memDevice"`
	// Access is "mmap" for /dev/mem style devices or "pread" for UIO and
	// XDMA user nodes.
	Access    string `yaml:"access"`
	RadioBase int64  `yaml:"radioBase"`
	FIFOBase  int64  `yaml:"fifoBase"`
	// StreamDevice, when set, replaces the FIFO registers with a streaming
	// character device or pipe.
	StreamDevice string `yaml:"streamDevice"`
	StreamPollMs int    `yaml:"streamPollMs"`
	SimFIFODepth int    `yaml:"simFifoDepth"`
	SimAmplitude int    `yaml:"simAmplitude"`
}

// MonitorConfig enables the WebSocket monitor when Addr is set.
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// RecordConfig enables Parquet recording when Dir is set.
type RecordConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			DestIP:        "127.0.0.1",
			DestPort:      transport.DefaultPort,
			Enabled:       true,
			SeqWrap:       32767,
			StopTimeoutMs: 3000,
		},
		Hardware: HardwareConfig{
			MemDevice:    "/dev/mem",
			Access:       "mmap",
			RadioBase:    regs.RadioBase,
			FIFOBase:     regs.FIFOBase,
			StreamPollMs: 50,
			SimFIFODepth: 1024,
			SimAmplitude: 16000,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML
// file and the environment. Flags are applied by the caller before
// Validate.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	if ip := getenv("SDR_DEST_IP"); ip != "" {
		cfg.Stream.DestIP = ip
	}
	if port := getenv("SDR_DEST_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("SDR_DEST_PORT: %w", err)
		}
		cfg.Stream.DestPort = p
	}
	if sim := getenv("SDR_SIM"); sim != "" {
		on, err := strconv.ParseBool(sim)
		if err != nil {
			return fmt.Errorf("SDR_SIM: %w", err)
		}
		cfg.Hardware.Sim = on
	}
	if level := getenv("SDR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	return nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Destination(); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.SeqWrap < 0 || c.Stream.SeqWrap > 65535 {
		errs = append(errs, fmt.Errorf("stream.seqWrap %d outside [0, 65535]", c.Stream.SeqWrap))
	}
	if c.Stream.SeqWrap == 1 {
		errs = append(errs, errors.New("stream.seqWrap 1 would send sequence 0 forever"))
	}
	if c.Stream.PollIdleUs < 0 {
		errs = append(errs, fmt.Errorf("stream.pollIdleUs %d is negative", c.Stream.PollIdleUs))
	}
	for _, f := range []struct {
		name string
		hz   int64
	}{{"radio.adcHz", c.Radio.ADCHz}, {"radio.tunerHz", c.Radio.TunerHz}} {
		if _, err := radio.FreqToInc(f.hz); err != nil {
			errs = append(errs, fmt.Errorf("%s %d: %w", f.name, f.hz, err))
		}
	}

	switch c.Hardware.Access {
	case "mmap", "pread":
	default:
		errs = append(errs, fmt.Errorf("hardware.access %q: want mmap or pread", c.Hardware.Access))
	}
	if !c.Hardware.Sim && c.Hardware.MemDevice == "" {
		errs = append(errs, errors.New("hardware.memDevice is required without sim"))
	}
	if c.Hardware.RadioBase < 0 || c.Hardware.FIFOBase < 0 {
		errs = append(errs, errors.New("hardware bases must be non-negative"))
	}
	if c.Hardware.SimFIFODepth <= fifo.Threshold {
		errs = append(errs, fmt.Errorf("hardware.simFifoDepth %d cannot hold a batch", c.Hardware.SimFIFODepth))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Destination returns the configured UDP destination.
func (c *Config) Destination() (netip.AddrPort, error) {
	return transport.ParseDestination(c.Stream.DestIP, c.Stream.DestPort)
}

// PollIdle is the capture loop's wait after an empty poll.
func (c *Config) PollIdle() time.Duration {
	return time.Duration(c.Stream.PollIdleUs) * time.Microsecond
}

// StopTimeout bounds the capture loop shutdown.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Stream.StopTimeoutMs) * time.Millisecond
}
