package main

import (
	"io"
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		Listen: ":20000", Regs: "sim", MemDev: "/dev/mem", MemBase: "0x40006400",
		Serial: "/dev/null", Baud: 115200, LinkTimeout: 100 * time.Millisecond, SimStep: time.Millisecond,
		StatePoll: time.Second, TxQueue: 16, LogFormat: "text", LogLevel: "info",
		HubBuffer: 8, HubPolicy: "drop", HandshakeTO: time.Second, ClientReadTO: time.Second,
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, showVersion, err := parseConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if showVersion {
		t.Fatalf("unexpected version request")
	}
	if cfg.Regs != "sim" || cfg.Listen != ":20000" || cfg.TxQueue != txQueueSize {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	base, err := cfg.memBase()
	if err != nil || base != 0x40006400 {
		t.Fatalf("mem base 0x%X (%v)", base, err)
	}
}

func TestParseConfigVersion(t *testing.T) {
	_, showVersion, err := parseConfig([]string{"-version"}, io.Discard)
	if err != nil || !showVersion {
		t.Fatalf("expected version request, got %v %v", showVersion, err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BXCAN_BRIDGE_REGS", "serial")
	t.Setenv("BXCAN_BRIDGE_BAUD", "230400")
	t.Setenv("BXCAN_BRIDGE_LINK_TIMEOUT", "250ms")
	t.Setenv("BXCAN_BRIDGE_MDNS_ENABLE", "true")
	t.Setenv("BXCAN_BRIDGE_LOG_METRICS_INTERVAL", "5s")
	cfg, _, err := parseConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Regs != "serial" || cfg.Baud != 230400 {
		t.Fatalf("expected env overrides, got regs=%s baud=%d", cfg.Regs, cfg.Baud)
	}
	if cfg.LinkTimeout != 250*time.Millisecond {
		t.Fatalf("expected link timeout 250ms got %v", cfg.LinkTimeout)
	}
	if !cfg.MDNSEnable {
		t.Fatalf("expected mdns enabled")
	}
	if cfg.LogMetricsEvery != 5*time.Second {
		t.Fatalf("expected metrics interval 5s got %v", cfg.LogMetricsEvery)
	}
}

func TestApplyEnvOverridesFlagPrecedence(t *testing.T) {
	t.Setenv("BXCAN_BRIDGE_BAUD", "230400")
	t.Setenv("BXCAN_BRIDGE_LISTEN", ":3000")
	cfg, _, err := parseConfig([]string{"-baud", "9600"}, io.Discard)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Baud != 9600 {
		t.Fatalf("flag must win over env, got %d", cfg.Baud)
	}
	if cfg.Listen != ":3000" {
		t.Fatalf("env must apply to flags not given, got %s", cfg.Listen)
	}
}

func TestApplyEnvOverridesBadInt(t *testing.T) {
	t.Setenv("BXCAN_BRIDGE_HUB_BUFFER", "notint")
	if _, _, err := parseConfig(nil, io.Discard); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.LogFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.LogLevel = "nope" }},
		{"badRegs", func(c *appConfig) { c.Regs = "x" }},
		{"badSimStep", func(c *appConfig) { c.SimStep = 0 }},
		{"noMemDev", func(c *appConfig) { c.Regs = "mmap"; c.MemDev = "" }},
		{"badBaud", func(c *appConfig) { c.Regs = "serial"; c.Baud = 0 }},
		{"badLinkTimeout", func(c *appConfig) { c.Regs = "serial"; c.LinkTimeout = 0 }},
		{"badMemBase", func(c *appConfig) { c.MemBase = "zz" }},
		{"unalignedMemBase", func(c *appConfig) { c.MemBase = "0x40006402" }},
		{"badPolicy", func(c *appConfig) { c.HubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.HubBuffer = 0 }},
		{"badTxQueue", func(c *appConfig) { c.TxQueue = 0 }},
		{"badStatePoll", func(c *appConfig) { c.StatePoll = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.HandshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.ClientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.MaxClients = -1 }},
	}
	for _, tc := range tests {
		c := validConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
