// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roost-sh/roost/lib/breaker"
	"github.com/roost-sh/roost/lib/clock"
	"github.com/roost-sh/roost/lib/notify"
	"github.com/roost-sh/roost/lib/sealed"
	"github.com/roost-sh/roost/lib/sshexec"
	"github.com/roost-sh/roost/lib/store"
)

const (
	defaultSweepInterval      = 60 * time.Second
	defaultConcurrency        = 5
	defaultConnectTimeout     = 10 * time.Second
	defaultCommandTimeout     = 15 * time.Second
	defaultDownNotifyCooldown = 5 * time.Minute

	// workloadUnit matches the unit the injector installs.
	workloadUnit = "roost-workload"
)

// Config configures a Monitor.
type Config struct {
	Store    store.Store
	Executor sshexec.Executor
	Box      *sealed.Box
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *Metrics

	// OperatorEmail receives circuit-trip alerts.
	OperatorEmail string

	// Username is the VM login user; defaults to "roost".
	Username string

	// SweepInterval is the tick period; Concurrency bounds parallel
	// tenant checks within one sweep.
	SweepInterval time.Duration
	Concurrency   int

	// ConnectTimeout and CommandTimeout bound each remote check and
	// restart.
	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	// DownNotifyCooldown suppresses repeat down notifications while a
	// tenant flaps.
	DownNotifyCooldown time.Duration
}

// Monitor periodically sweeps all active tenant VMs. One Monitor
// instance owns its sweep schedule; create it, Start it, Stop it.
type Monitor struct {
	store    store.Store
	executor sshexec.Executor
	box      *sealed.Box
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics

	operatorEmail      string
	username           string
	sweepInterval      time.Duration
	concurrency        int
	connectTimeout     time.Duration
	commandTimeout     time.Duration
	downNotifyCooldown time.Duration

	sweeping atomic.Bool

	mutex   sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// New validates the config and returns a Monitor.
func New(config Config) (*Monitor, error) {
	if config.Store == nil || config.Executor == nil || config.Box == nil || config.Notifier == nil {
		return nil, fmt.Errorf("monitor: store, executor, box, and notifier are required")
	}
	if config.OperatorEmail == "" {
		return nil, fmt.Errorf("monitor: operator email is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Username == "" {
		config.Username = "roost"
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.Concurrency == 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = defaultCommandTimeout
	}
	if config.DownNotifyCooldown == 0 {
		config.DownNotifyCooldown = defaultDownNotifyCooldown
	}
	return &Monitor{
		store:              config.Store,
		executor:           config.Executor,
		box:                config.Box,
		notifier:           config.Notifier,
		clock:              config.Clock,
		logger:             config.Logger,
		metrics:            config.Metrics,
		operatorEmail:      config.OperatorEmail,
		username:           config.Username,
		sweepInterval:      config.SweepInterval,
		concurrency:        config.Concurrency,
		connectTimeout:     config.ConnectTimeout,
		commandTimeout:     config.CommandTimeout,
		downNotifyCooldown: config.DownNotifyCooldown,
	}, nil
}

// Start launches the sweep loop. It returns an error if the monitor
// is already running.
func (monitor *Monitor) Start(ctx context.Context) error {
	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()
	if monitor.stop != nil {
		return fmt.Errorf("monitor: already started")
	}
	monitor.stop = make(chan struct{})
	monitor.stopped = make(chan struct{})

	go monitor.loop(ctx, monitor.stop, monitor.stopped)
	monitor.logger.Info("health monitor started", "interval", monitor.sweepInterval)
	return nil
}

// Stop halts the sweep loop and waits for it to exit. An in-flight
// sweep finishes its current tenants.
func (monitor *Monitor) Stop() {
	monitor.mutex.Lock()
	stop, stopped := monitor.stop, monitor.stopped
	monitor.stop, monitor.stopped = nil, nil
	monitor.mutex.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	monitor.logger.Info("health monitor stopped")
}

func (monitor *Monitor) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := monitor.clock.NewTicker(monitor.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// Skip, never queue, when the previous sweep is still
			// running.
			go monitor.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass over the active tenants. It returns false
// when another sweep was already in progress and this one was skipped.
func (monitor *Monitor) Sweep(ctx context.Context) bool {
	if !monitor.sweeping.CompareAndSwap(false, true) {
		monitor.logger.Warn("sweep still in progress, skipping tick")
		return false
	}
	defer monitor.sweeping.Store(false)

	started := monitor.clock.Now()
	tenants, err := monitor.store.ListActiveVMs(ctx)
	if err != nil {
		monitor.logger.Error("listing active tenants", "error", err)
		return true
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(monitor.concurrency)

	statusCounts := make(map[store.HealthStatus]int)
	var countsMutex sync.Mutex

	for _, tenant := range tenants {
		group.Go(func() error {
			status := monitor.checkTenant(groupCtx, tenant)
			countsMutex.Lock()
			statusCounts[status]++
			countsMutex.Unlock()
			// Per-tenant failures are fully handled inside the
			// check; returning nil keeps the batch alive.
			return nil
		})
	}
	group.Wait()

	elapsed := monitor.clock.Now().Sub(started)
	monitor.metrics.observeSweep(elapsed.Seconds(), statusCounts)
	monitor.logger.Debug("sweep complete",
		"tenants", len(tenants),
		"elapsed", elapsed,
	)
	return true
}

// checkTenant performs the check-decide-maybe-restart-persist sequence
// for one tenant and returns the resulting health status.
func (monitor *Monitor) checkTenant(ctx context.Context, tenant *store.VMRecord) store.HealthStatus {
	now := monitor.clock.Now()
	health := monitor.loadHealth(ctx, tenant.TenantID)
	health.TotalChecks++
	health.LastCheckAt = &now
	monitor.metrics.countCheck()

	result, checkErr := monitor.runRemote(ctx, tenant, fmt.Sprintf("systemctl is-active %s", workloadUnit))

	switch {
	case checkErr != nil:
		// Host unreachable. Restarting a service on a dead host is
		// meaningless, so this never attempts one.
		monitor.handleFailure(ctx, tenant, health, now, store.HealthDown,
			fmt.Sprintf("health check failed: %v", checkErr))

	case result.ExitCode == 0 && strings.TrimSpace(result.Stdout) == "active":
		monitor.handleSuccess(ctx, tenant, health, now)

	default:
		// Reachable but inactive: restart if the breaker allows.
		monitor.handleInactive(ctx, tenant, health, now,
			strings.TrimSpace(result.Stdout))
	}

	if err := monitor.store.UpsertHealth(ctx, health); err != nil {
		monitor.logger.Error("persisting health record",
			"tenant_id", tenant.TenantID,
			"error", err,
		)
	}
	return health.Status
}

// loadHealth fetches the tenant's health record, creating a fresh one
// on the first check.
func (monitor *Monitor) loadHealth(ctx context.Context, tenantID string) *store.HealthRecord {
	health, err := monitor.store.FindHealth(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return &store.HealthRecord{
			TenantID:     tenantID,
			Status:       store.HealthHealthy,
			CircuitState: breaker.Closed,
		}
	}
	if err != nil {
		monitor.logger.Error("loading health record", "tenant_id", tenantID, "error", err)
		return &store.HealthRecord{
			TenantID:     tenantID,
			Status:       store.HealthHealthy,
			CircuitState: breaker.Closed,
		}
	}
	return health
}

// runRemote executes one command on the tenant VM with the monitor's
// short timeouts.
func (monitor *Monitor) runRemote(ctx context.Context, tenant *store.VMRecord, command string) (*sshexec.Result, error) {
	if tenant.PrivateKeyEncrypted == "" {
		return nil, fmt.Errorf("record has no stored key")
	}
	privateKey, err := monitor.box.Open(tenant.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypting vm key: %w", err)
	}
	defer privateKey.Close()

	return monitor.executor.Execute(ctx, sshexec.Target{
		Host:           tenant.VMAddress,
		User:           monitor.username,
		PrivateKey:     privateKey,
		ConnectTimeout: monitor.connectTimeout,
		CommandTimeout: monitor.commandTimeout,
	}, command)
}

// handleSuccess applies a passing check: breaker reset, healthy
// status, and a recovery notification when the tenant had previously
// been told their VM was down.
func (monitor *Monitor) handleSuccess(ctx context.Context, tenant *store.VMRecord, health *store.HealthRecord, now time.Time) {
	previousHealthy := health.LastHealthyAt
	result := breaker.AfterSuccess(health.BreakerState(), now)
	health.ApplyBreakerState(result.State)
	health.Status = store.HealthHealthy
	health.LastHealthyAt = &now
	health.LastError = ""

	if result.Recovered {
		health.TotalRecoveries++
		monitor.metrics.countRecovery()
		monitor.logger.Info("tenant recovered", "tenant_id", tenant.TenantID)
		if notifiedDown(health) {
			minutes := downtimeMinutes(previousHealthy, health.LastFailureAt, now)
			monitor.notifier.SendRecovered(ctx, tenant.TenantEmail, tenant.TenantName, minutes)
			health.LastNotifiedUpAt = &now
		}
	}
}

// handleInactive applies a reachable-but-inactive check, attempting a
// restart when the breaker permits one.
func (monitor *Monitor) handleInactive(ctx context.Context, tenant *store.VMRecord, health *store.HealthRecord, now time.Time, reported string) {
	state := health.BreakerState()
	if !breaker.ShouldAttemptRestart(state, now) {
		health.Status = store.HealthCircuitOpen
		health.LastError = fmt.Sprintf("service %s, circuit open, restart skipped", reported)
		monitor.logger.Warn("restart skipped, circuit open",
			"tenant_id", tenant.TenantID,
			"opened_at", health.CircuitOpenedAt,
		)
		return
	}

	health.LastRestartAttemptAt = &now
	monitor.metrics.countRestart()
	monitor.logger.Info("attempting service restart",
		"tenant_id", tenant.TenantID,
		"host", tenant.VMAddress,
	)

	restart, err := monitor.runRemote(ctx, tenant, fmt.Sprintf("sudo systemctl restart %s", workloadUnit))
	if err != nil {
		monitor.handleFailure(ctx, tenant, health, now, store.HealthDown,
			fmt.Sprintf("restart failed: %v", err))
		return
	}
	if restart.ExitCode != 0 {
		monitor.handleFailure(ctx, tenant, health, now, store.HealthUnhealthy,
			fmt.Sprintf("restart exited %d: %s", restart.ExitCode, strings.TrimSpace(restart.Stderr)))
		return
	}

	monitor.logger.Info("service restarted", "tenant_id", tenant.TenantID)
	monitor.handleSuccess(ctx, tenant, health, now)
}

// handleFailure applies a failed check or restart: breaker advance,
// counters, down notification gated by the cooldown, and a one-shot
// operator alert when the breaker trips.
func (monitor *Monitor) handleFailure(ctx context.Context, tenant *store.VMRecord, health *store.HealthRecord, now time.Time, status store.HealthStatus, cause string) {
	firstFailure := health.BreakerState().ConsecutiveFailures == 0

	result := breaker.AfterFailure(health.BreakerState(), now)
	health.ApplyBreakerState(result.State)
	health.TotalFailures++
	health.LastFailureAt = &now
	health.LastError = cause
	monitor.metrics.countFailure()

	if breaker.EffectiveState(result.State, now) == breaker.Open {
		health.Status = store.HealthCircuitOpen
	} else {
		health.Status = status
	}

	monitor.logger.Warn("health check failure",
		"tenant_id", tenant.TenantID,
		"consecutive_failures", health.ConsecutiveFailures,
		"cause", cause,
	)

	if firstFailure && monitor.downNotifyAllowed(health, now) {
		monitor.notifier.SendDown(ctx, tenant.TenantEmail, tenant.TenantName)
		health.LastNotifiedDownAt = &now
	}

	if result.Tripped {
		monitor.notifier.SendOperatorAlert(ctx, monitor.operatorEmail,
			tenant.TenantID, tenant.TenantEmail, tenant.VMAddress,
			health.ConsecutiveFailures, cause)
	}
}

// downNotifyAllowed applies the flap-suppression cooldown.
func (monitor *Monitor) downNotifyAllowed(health *store.HealthRecord, now time.Time) bool {
	if health.LastNotifiedDownAt == nil {
		return true
	}
	return now.Sub(*health.LastNotifiedDownAt) >= monitor.downNotifyCooldown
}

// notifiedDown reports whether the tenant's most recent notification
// was a down notice with no recovery notice after it.
func notifiedDown(health *store.HealthRecord) bool {
	if health.LastNotifiedDownAt == nil {
		return false
	}
	return health.LastNotifiedUpAt == nil || health.LastNotifiedUpAt.Before(*health.LastNotifiedDownAt)
}

// downtimeMinutes approximates the outage length for the recovery
// notification, preferring the last healthy observation as the start.
func downtimeMinutes(lastHealthy, lastFailure *time.Time, now time.Time) int {
	var since time.Time
	switch {
	case lastHealthy != nil:
		since = *lastHealthy
	case lastFailure != nil:
		since = *lastFailure
	default:
		return 0
	}
	minutes := int(now.Sub(since).Round(time.Minute) / time.Minute)
	if minutes < 0 {
		return 0
	}
	return minutes
}
