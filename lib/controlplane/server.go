// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roost-sh/roost/lib/store"
)

// Provisioner is the slice of the orchestrator the control plane
// drives.
type Provisioner interface {
	Provision(ctx context.Context, tenantID string) error
	SignalBoot(ctx context.Context, tenantID, hostname string) error
}

// TenantRemover tears a tenant's VM down.
type TenantRemover interface {
	Deprovision(ctx context.Context, tenantID string) error
}

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address. Required for Serve; tests
	// that only exercise Handler may leave it empty.
	Address string

	Store         store.Store
	Provisioner   Provisioner
	Deprovisioner TenantRemover
	Logger        *slog.Logger

	// MetricsHandler serves GET /metrics; typically
	// promhttp.Handler(). Optional.
	MetricsHandler http.Handler

	// ShutdownTimeout bounds the drain of in-flight requests after
	// the context is cancelled. Defaults to 10 seconds.
	ShutdownTimeout time.Duration
}

// Server is the control-plane HTTP server.
type Server struct {
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound and accepting.
	ready chan struct{}
	addr  net.Addr

	store         store.Store
	provisioner   Provisioner
	deprovisioner TenantRemover
}

// New validates the config and builds the server and its routes.
func New(config Config) (*Server, error) {
	if config.Store == nil || config.Provisioner == nil || config.Deprovisioner == nil {
		return nil, fmt.Errorf("controlplane: store, provisioner, and deprovisioner are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	server := &Server{
		address:         config.Address,
		logger:          config.Logger,
		shutdownTimeout: config.ShutdownTimeout,
		ready:           make(chan struct{}),
		store:           config.Store,
		provisioner:     config.Provisioner,
		deprovisioner:   config.Deprovisioner,
	}
	server.handler = server.routes(config.MetricsHandler)
	return server, nil
}

// Handler exposes the routed handler, mainly for httptest.
func (server *Server) Handler() http.Handler { return server.handler }

// Ready returns a channel closed once the server is accepting
// connections.
func (server *Server) Ready() <-chan struct{} { return server.ready }

// Addr returns the resolved listen address; valid after Ready is
// closed.
func (server *Server) Addr() net.Addr { return server.addr }

// Serve binds the listener and accepts connections until ctx is
// cancelled, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) error {
	if server.address == "" {
		return fmt.Errorf("controlplane: listen address is required")
	}
	listener, err := net.Listen("tcp", server.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", server.address, err)
	}
	server.addr = listener.Addr()
	close(server.ready)

	httpServer := &http.Server{
		Handler:           server.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	server.logger.Info("control plane listening", "address", server.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		server.logger.Info("control plane shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control plane shutdown: %w", err)
	}
	server.logger.Info("control plane stopped")
	return nil
}
