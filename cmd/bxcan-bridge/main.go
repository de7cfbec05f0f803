// Command bxcan-bridge drives a bxCAN controller and bridges its bus to
// cannelloni TCP clients, an optional SocketCAN interface and Prometheus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/cnl"
	"github.com/kstaniek/go-bxcan/internal/metrics"
	"github.com/kstaniek/go-bxcan/internal/server"
)

func main() {
	cfg, showVersion, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("bxcan-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *appConfig) error {
	l := setupLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	cc, err := loadControllerConfig(cfg.ControllerFile)
	if err != nil {
		l.Error("controller_config_error", "error", err)
		return err
	}
	h := initHub(cfg, l)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	rg, err := openRegisters(ctx, cfg, l, &wg)
	if err != nil {
		l.Error("regs_open_error", "error", err)
		return err
	}
	defer func() { _ = rg.close() }()

	b := newBridge(bxcan.New(rg.block, bxcan.WithLogger(l)), h, l, rg.err)
	if err := b.bringUp(ctx, cc); err != nil {
		l.Error("controller_bring_up_error", "error", err)
		return err
	}
	b.startTx(ctx, cfg.TxQueue)
	defer b.close()
	wg.Add(2)
	go func() { defer wg.Done(); b.rxLoop(ctx) }()
	go func() {
		defer wg.Done()
		b.pollState(ctx, cfg.StatePoll, func(err error) {
			l.Error("controller_lost", "error", err)
			cancel(err)
		})
	}()

	stopMirror, err := startMirror(ctx, cfg, h, b.SendFrame, l)
	if err != nil {
		l.Error("socketcan_mirror_error", "error", err)
		return err
	}
	defer stopMirror()

	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{}),
		server.WithSend(b.SendFrame),
		server.WithLogger(l),
		server.WithMaxClients(cfg.MaxClients),
		server.WithHandshakeTimeout(cfg.HandshakeTO),
		server.WithReadDeadline(cfg.ClientReadTO),
		server.WithListenAddr(cfg.Listen),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel(err)
		}
	}()
	go advertise(ctx, cfg, srv, cc, l)

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		httpSrv := metrics.StartHTTP(cfg.MetricsAddr, b.Status)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cause := context.Cause(ctx)
	cancel(nil)
	_ = srv.Shutdown(context.Background())
	wg.Wait()
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// advertise registers the cannelloni service once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, cc *controllerConfig, l *slog.Logger) {
	if !cfg.MDNSEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	_, p, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	port, _ := strconv.Atoi(p)
	bitrate := cc.Bitrate
	if cc.Timing != nil {
		bitrate = cc.Timing.Bitrate(cc.ClockHz)
	}
	cleanup, err := startMDNS(ctx, cfg, port, bitrate)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg.MDNSName), "port", port)
	<-ctx.Done()
	cleanup()
}
