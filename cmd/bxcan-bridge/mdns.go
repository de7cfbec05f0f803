package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType is the service type cannelloni clients browse for.
const mdnsServiceType = "_cannelloni._tcp"

// registerMDNS is a hook for tests.
var registerMDNS = func(instance, service string, port int, txt []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

func mdnsInstance(name string) string {
	if name != "" {
		return name
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("bxcan-bridge-%s", host)
}

func mdnsTXT(cfg *appConfig, bitrate uint32) []string {
	return []string{
		"regs=" + cfg.Regs,
		fmt.Sprintf("bitrate=%d", bitrate),
		"version=" + version,
		"commit=" + commit,
	}
}

// startMDNS registers the service and returns a cleanup function.
// It is a no-op when mDNS is disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int, bitrate uint32) (func(), error) {
	if !cfg.MDNSEnable {
		return func() {}, nil
	}
	shutdown, err := registerMDNS(mdnsInstance(cfg.MDNSName), mdnsServiceType, port, mdnsTXT(cfg, bitrate))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
