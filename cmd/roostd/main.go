// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/roost-sh/roost/lib/bootconfig"
	"github.com/roost-sh/roost/lib/config"
	"github.com/roost-sh/roost/lib/controlplane"
	"github.com/roost-sh/roost/lib/hcloud"
	"github.com/roost-sh/roost/lib/monitor"
	"github.com/roost-sh/roost/lib/notify"
	"github.com/roost-sh/roost/lib/process"
	"github.com/roost-sh/roost/lib/provision"
	"github.com/roost-sh/roost/lib/sealed"
	"github.com/roost-sh/roost/lib/secret"
	"github.com/roost-sh/roost/lib/sshexec"
	"github.com/roost-sh/roost/lib/store"
	"github.com/roost-sh/roost/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to roost.yaml (overrides ROOST_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print("roostd")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up logging.
	logLevel := slog.LevelInfo
	if os.Getenv("ROOST_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The age identity seals tenant credentials at rest. It is parsed
	// once at startup; the raw key never outlives this function scope.
	identity, err := secret.ReadFromPath(cfg.Secrets.IdentityFile)
	if err != nil {
		return fmt.Errorf("loading age identity: %w", err)
	}
	box, err := sealed.NewBox(identity)
	identity.Close()
	if err != nil {
		return err
	}

	token, err := cfg.ProviderToken()
	if err != nil {
		return err
	}
	defer token.Close()

	cloud, err := hcloud.NewClient(hcloud.Config{
		Token:  token.String(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	recordStore, err := store.OpenBolt(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening record database: %w", err)
	}
	defer recordStore.Close()

	bootBuilder, err := bootconfig.NewBuilder(bootconfig.Config{
		CallbackBaseURL: cfg.ControlPlane.CallbackBaseURL,
		WorkloadRepo:    cfg.Workload.Repo,
		WorkloadPackage: cfg.Workload.Package,
		Username:        cfg.Workload.Username,
		WorkDir:         cfg.Workload.WorkDir,
	})
	if err != nil {
		return err
	}

	executor := sshexec.NewClient()

	injector, err := provision.NewInjector(provision.InjectorConfig{
		Executor: executor,
		Username: cfg.Workload.Username,
		WorkDir:  cfg.Workload.WorkDir,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	deprovisioner, err := provision.NewDeprovisioner(provision.DeprovisionerConfig{
		Cloud:  cloud,
		Store:  recordStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	orchestrator, err := provision.NewOrchestrator(provision.OrchestratorConfig{
		Cloud:         cloud,
		Store:         recordStore,
		Box:           box,
		BootConfig:    bootBuilder,
		Injector:      injector,
		Deprovisioner: deprovisioner,
		Logger:        logger,
		ServerType:    cfg.Provider.ServerType,
		Image:         cfg.Provider.Image,
		Location:      cfg.Provider.Location,
		FirewallName:  cfg.Provider.FirewallName,
	})
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if cfg.Monitor.WebhookURL != "" {
		notifier, err = notify.NewWebhookNotifier(cfg.Monitor.WebhookURL, http.DefaultClient, logger)
		if err != nil {
			return err
		}
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)

	healthMonitor, err := monitor.New(monitor.Config{
		Store:              recordStore,
		Executor:           executor,
		Box:                box,
		Notifier:           notifier,
		Logger:             logger,
		Metrics:            metrics,
		OperatorEmail:      cfg.Monitor.OperatorEmail,
		Username:           cfg.Workload.Username,
		SweepInterval:      cfg.Monitor.SweepInterval,
		Concurrency:        cfg.Monitor.Concurrency,
		DownNotifyCooldown: cfg.Monitor.DownNotifyCooldown,
	})
	if err != nil {
		return err
	}

	server, err := controlplane.New(controlplane.Config{
		Address:         cfg.ControlPlane.ListenAddress,
		Store:           recordStore,
		Provisioner:     orchestrator,
		Deprovisioner:   deprovisioner,
		Logger:          logger,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ShutdownTimeout: cfg.ControlPlane.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	// Wait for the control plane to bind before starting the sweep so
	// a bad listen address fails fast.
	select {
	case <-server.Ready():
		logger.Info("control plane ready", "address", server.Addr().String())
	case err := <-serveDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := healthMonitor.Start(ctx); err != nil {
		return err
	}

	logger.Info("roostd running",
		"environment", string(cfg.Environment),
		"database", cfg.Storage.DatabasePath,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	healthMonitor.Stop()
	if err := <-serveDone; err != nil {
		logger.Error("control plane error", "error", err)
		return err
	}
	return nil
}
