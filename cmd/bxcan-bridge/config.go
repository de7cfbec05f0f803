package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/logging"
)

// appConfig is filled from flags, then BXCAN_BRIDGE_* environment variables
// for every flag not given on the command line.
type appConfig struct {
	Listen          string        `env:"BXCAN_BRIDGE_LISTEN"`
	Regs            string        `env:"BXCAN_BRIDGE_REGS"`
	MemDev          string        `env:"BXCAN_BRIDGE_MEM_DEV"`
	MemBase         string        `env:"BXCAN_BRIDGE_MEM_BASE"`
	Serial          string        `env:"BXCAN_BRIDGE_SERIAL"`
	Baud            int           `env:"BXCAN_BRIDGE_BAUD"`
	LinkTimeout     time.Duration `env:"BXCAN_BRIDGE_LINK_TIMEOUT"`
	SimStep         time.Duration `env:"BXCAN_BRIDGE_SIM_STEP"`
	ControllerFile  string        `env:"BXCAN_BRIDGE_CONTROLLER"`
	StatePoll       time.Duration `env:"BXCAN_BRIDGE_STATE_POLL"`
	TxQueue         int           `env:"BXCAN_BRIDGE_TX_QUEUE"`
	CanIf           string        `env:"BXCAN_BRIDGE_MIRROR_IF"`
	LogFormat       string        `env:"BXCAN_BRIDGE_LOG_FORMAT"`
	LogLevel        string        `env:"BXCAN_BRIDGE_LOG_LEVEL"`
	MetricsAddr     string        `env:"BXCAN_BRIDGE_METRICS"`
	LogMetricsEvery time.Duration `env:"BXCAN_BRIDGE_LOG_METRICS_INTERVAL"`
	HubBuffer       int           `env:"BXCAN_BRIDGE_HUB_BUFFER"`
	HubPolicy       string        `env:"BXCAN_BRIDGE_HUB_POLICY"`
	MaxClients      int           `env:"BXCAN_BRIDGE_MAX_CLIENTS"`
	HandshakeTO     time.Duration `env:"BXCAN_BRIDGE_HANDSHAKE_TIMEOUT"`
	ClientReadTO    time.Duration `env:"BXCAN_BRIDGE_CLIENT_READ_TIMEOUT"`
	MDNSEnable      bool          `env:"BXCAN_BRIDGE_MDNS_ENABLE"`
	MDNSName        string        `env:"BXCAN_BRIDGE_MDNS_NAME"`
}

func newFlagSet(cfg *appConfig) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet("bxcan-bridge", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", ":20000", "Cannelloni TCP listen address")
	fs.StringVar(&cfg.Regs, "regs", "sim", "Register backend: sim|mmap|serial")
	fs.StringVar(&cfg.MemDev, "mem-dev", "/dev/mem", "Memory device mapped by --regs=mmap")
	fs.StringVar(&cfg.MemBase, "mem-base", fmt.Sprintf("0x%08X", bxcan.CAN1Base), "Register block base address")
	fs.StringVar(&cfg.Serial, "serial", "/dev/ttyUSB0", "Register monitor serial device (--regs=serial)")
	fs.IntVar(&cfg.Baud, "baud", 115200, "Register monitor baud rate")
	fs.DurationVar(&cfg.LinkTimeout, "link-timeout", 100*time.Millisecond, "Register monitor transaction timeout")
	fs.DurationVar(&cfg.SimStep, "sim-step", time.Millisecond, "Hardware model step interval (--regs=sim)")
	fs.StringVar(&cfg.ControllerFile, "controller", "", "Controller YAML file (bit timing, modes, filters); empty uses 500 kbit/s accept-all")
	fs.DurationVar(&cfg.StatePoll, "state-poll", time.Second, "Controller state poll interval")
	fs.IntVar(&cfg.TxQueue, "tx-queue", txQueueSize, "Transmit queue size (frames)")
	fs.StringVar(&cfg.CanIf, "mirror-if", "", "SocketCAN interface mirroring bus traffic (linux); empty disables")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Metrics/status HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.LogMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.IntVar(&cfg.HubBuffer, "hub-buffer", 512, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.HubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.IntVar(&cfg.MaxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.HandshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.ClientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.MDNSEnable, "mdns-enable", false, "Advertise the cannelloni service over mDNS")
	fs.StringVar(&cfg.MDNSName, "mdns-name", "", "mDNS instance name (default bxcan-bridge-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	return fs, showVersion
}

// parseConfig parses args, applies environment overrides and validates.
func parseConfig(args []string, stderr io.Writer) (*appConfig, bool, error) {
	cfg := &appConfig{}
	fs, showVersion := newFlagSet(cfg)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	if err := applyEnvOverrides(cfg, fs); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// applyEnvOverrides loads BXCAN_BRIDGE_* variables into cfg, then restores
// the flags that were set explicitly so the command line wins.
func applyEnvOverrides(cfg *appConfig, fs *flag.FlagSet) error {
	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })
	if err := env.Parse(cfg); err != nil {
		return err
	}
	for name, v := range explicit {
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("restore -%s: %w", name, err)
		}
	}
	return nil
}

// memBase parses --mem-base (decimal or 0x-prefixed hex).
func (c *appConfig) memBase() (uint32, error) {
	v, err := strconv.ParseUint(c.MemBase, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mem-base %q: %w", c.MemBase, err)
	}
	return uint32(v), nil
}

// validate checks values and ranges only; it does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	switch c.Regs {
	case "sim":
		if c.SimStep <= 0 {
			return fmt.Errorf("sim-step must be > 0")
		}
	case "mmap":
		if c.MemDev == "" {
			return fmt.Errorf("mem-dev is required with regs=mmap")
		}
	case "serial":
		if c.Serial == "" {
			return fmt.Errorf("serial is required with regs=serial")
		}
		if c.Baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.Baud)
		}
		if c.LinkTimeout <= 0 {
			return fmt.Errorf("link-timeout must be > 0")
		}
	default:
		return fmt.Errorf("invalid regs backend: %s", c.Regs)
	}
	base, err := c.memBase()
	if err != nil {
		return err
	}
	if base%4 != 0 {
		return fmt.Errorf("mem-base 0x%X is not word aligned", base)
	}
	if _, err := hub.ParsePolicy(c.HubPolicy); err != nil {
		return fmt.Errorf("invalid hub-policy: %s", c.HubPolicy)
	}
	if c.HubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.HubBuffer)
	}
	if c.TxQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.TxQueue)
	}
	if c.StatePoll <= 0 {
		return fmt.Errorf("state-poll must be > 0")
	}
	if c.HandshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.ClientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.LogMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}
