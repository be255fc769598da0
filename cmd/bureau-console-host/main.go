// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-console-host is a small process that serves its console over a
// Unix socket. Its log output goes to stderr and to every attached
// bureau-console; once interactivity is enabled the console accepts a
// handful of commands (try "help").
//
// Configuration comes from the file named by --config or
// BUREAU_CONSOLE_CONFIG, with flags taking precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-console/lib/clock"
	"github.com/bureau-foundation/bureau-console/lib/config"
	"github.com/bureau-foundation/bureau-console/lib/process"
	"github.com/bureau-foundation/bureau-console/lib/version"
	"github.com/bureau-foundation/bureau-console/server"
)

const binaryName = "bureau-console-host"

func main() {
	process.Exit(binaryName, run(os.Args[1:]))
}

type options struct {
	configPath    string
	socketPath    string
	metricsListen string
	logLevel      string
	showVersion   bool
}

func parseOptions(args []string, usage io.Writer) (options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.StringVar(&opts.configPath, "config", "", "path to a YAML or JSONC config file (default $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&opts.socketPath, "socket", "s", "", "console socket path (overrides socket_path)")
	flagSet.StringVar(&opts.metricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint (overrides metrics.listen)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, nil, err
	}
	if flagSet.NArg() > 0 {
		return options{}, nil, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, flagSet, nil
}

// loadConfig reads the config file and applies flags the operator set.
func loadConfig(opts options, flagSet *pflag.FlagSet) (*config.HostConfig, error) {
	var hostConfig *config.HostConfig
	var err error
	if opts.configPath != "" {
		hostConfig, err = config.LoadFile(opts.configPath)
	} else {
		hostConfig, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flagSet.Changed("socket") {
		hostConfig.SocketPath = opts.socketPath
	}
	if flagSet.Changed("metrics-listen") {
		hostConfig.Metrics.Listen = opts.metricsListen
	}
	if flagSet.Changed("log-level") {
		hostConfig.LogLevel = opts.logLevel
	}
	if err := hostConfig.Validate(); err != nil {
		return nil, err
	}
	return hostConfig, nil
}

func run(args []string) error {
	opts, flagSet, err := parseOptions(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		version.Print(binaryName)
		return nil
	}

	hostConfig, err := loadConfig(opts, flagSet)
	if err != nil {
		return err
	}
	level, err := hostConfig.Level()
	if err != nil {
		return err
	}
	interactiveDelay, err := hostConfig.InteractiveDelay()
	if err != nil {
		return err
	}

	// Forwarding failures are reported on stderr only so the report
	// cannot loop back through the forwarding handler.
	stderrHandler := newStderrHandler(os.Stderr, level)
	forwarding, err := server.NewForwardingHandler(server.ForwardingOptions{
		Level:  level,
		Logger: slog.New(stderrHandler),
	})
	if err != nil {
		return err
	}
	logger := slog.New(fanoutHandler{stderrHandler, forwarding})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := server.NewMetrics(registry)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		SocketPath:         hostConfig.SocketPath,
		Logger:             logger.With("component", "console"),
		OutboundQueueSize:  hostConfig.Server.OutboundQueueSize,
		BroadcastQueueSize: hostConfig.Server.BroadcastQueueSize,
		CompressThreshold:  hostConfig.Server.CompressThreshold,
		Metrics:            metrics,
	})
	if err != nil {
		return err
	}
	if err := server.AttachForwarding(srv); err != nil {
		return err
	}
	defer server.DetachForwarding()

	if hostConfig.Metrics.Listen != "" {
		metricsServer := serveMetrics(hostConfig.Metrics.Listen, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	host := newCommandHost(srv, logger, clock.Real(), stop)
	go enableAfter(ctx, srv, host, interactiveDelay, logger)

	logger.Info(binaryName+" "+version.Info(), "socket", hostConfig.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serving console: %w", err)
	}
	logger.Info("console host stopped")
	return nil
}

// enableAfter turns interactivity on once startup has settled for
// delay, unless ctx ends first.
func enableAfter(ctx context.Context, srv *server.Server, host *commandHost, delay time.Duration, logger *slog.Logger) {
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	srv.EnableInteractivity(host.hooks())
	logger.Info("console interactivity enabled")
}

func serveMetrics(address string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "address", address, "error", err)
		}
	}()
	logger.Info("serving metrics", "address", address)
	return metricsServer
}
