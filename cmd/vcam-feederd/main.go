// Command vcam-feederd is the feeder daemon: it creates the ring
// segment, listens for the FD rendezvous and the TCP video source, and
// serves the Prometheus metrics endpoint and the operator console.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pixel4a/vcam/internal/config"
	"github.com/pixel4a/vcam/internal/feeder"
	"github.com/pixel4a/vcam/internal/logger"
	"github.com/pixel4a/vcam/internal/metrics"
	"github.com/pixel4a/vcam/internal/monitor"
)

var (
	tcpAddr     = flag.String("tcp", "", "TCP video source address (default from config)")
	metricsAddr = flag.String("metrics", "", "Prometheus metrics address (default from config)")
	monitorAddr = flag.String("monitor", "", "Operator console address (default from config)")
	configPath  = flag.String("config", "/data/local/tmp/vcam_feederd.yaml", "Optional YAML config overlay")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if err := config.LoadYAML(*configPath, &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}
	applyFlagOverrides(&cfg)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)
	logger.Info("Main", "vcam feeder daemon starting")

	port, err := portFromAddr(cfg.TCPAddr)
	if err != nil {
		logger.Error("Main", "bad tcp address %q: %v", cfg.TCPAddr, err)
		os.Exit(1)
	}

	m := metrics.New()

	d, err := feeder.New(port, m)
	if err != nil {
		logger.Error("Main", "failed to create feeder: %v", err)
		os.Exit(1)
	}
	defer d.Close()
	logger.Info("Main", "ring segment created, rendezvous socket at %s, tcp port %d", d.RendezvousPath(), port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Main", "metrics server stopped: %v", err)
		}
	}()

	console := monitor.NewServer(d.Segment(), m)
	consoleServer := &http.Server{Addr: cfg.MonitorAddr, Handler: console.Handler()}
	go func() {
		if err := consoleServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Main", "monitor console stopped: %v", err)
		}
	}()

	stop := make(chan struct{})
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(stop) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Main", "signal received, shutting down")
	case err := <-runDone:
		if err != nil {
			logger.Error("Main", "feeder loop exited: %v", err)
		}
	}

	close(stop)
	<-runDone

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = metricsServer.Shutdown(ctx)
	_ = consoleServer.Shutdown(ctx)

	logger.Info("Main", "feeder daemon stopped")
}

func applyFlagOverrides(cfg *config.Config) {
	if *tcpAddr != "" {
		cfg.TCPAddr = *tcpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *monitorAddr != "" {
		cfg.MonitorAddr = *monitorAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "log-color" {
			cfg.LogColor = *logColor
		}
	})
}

func portFromAddr(addr string) (int, error) {
	trimmed := strings.TrimPrefix(addr, ":")
	return strconv.Atoi(trimmed)
}
