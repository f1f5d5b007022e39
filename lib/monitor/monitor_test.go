// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roost-sh/roost/lib/breaker"
	"github.com/roost-sh/roost/lib/clock"
	"github.com/roost-sh/roost/lib/sealed"
	"github.com/roost-sh/roost/lib/sshexec"
	"github.com/roost-sh/roost/lib/store"
)

// fakeExecutor answers remote commands through a swappable handler.
type fakeExecutor struct {
	mutex    sync.Mutex
	commands []string
	handle   func(target sshexec.Target, command string) (*sshexec.Result, error)
}

func (executor *fakeExecutor) Execute(ctx context.Context, target sshexec.Target, command string) (*sshexec.Result, error) {
	executor.mutex.Lock()
	executor.commands = append(executor.commands, command)
	handle := executor.handle
	executor.mutex.Unlock()
	if handle != nil {
		return handle(target, command)
	}
	return &sshexec.Result{Stdout: "active\n"}, nil
}

func (executor *fakeExecutor) setHandle(handle func(target sshexec.Target, command string) (*sshexec.Result, error)) {
	executor.mutex.Lock()
	executor.handle = handle
	executor.mutex.Unlock()
}

func (executor *fakeExecutor) seen() []string {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return append([]string(nil), executor.commands...)
}

// fakeNotifier records every notification.
type fakeNotifier struct {
	mutex      sync.Mutex
	downs      []string
	recoveries []int
	alerts     []string
}

func (notifier *fakeNotifier) SendDown(ctx context.Context, email, name string) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.downs = append(notifier.downs, email)
}

func (notifier *fakeNotifier) SendRecovered(ctx context.Context, email, name string, downtimeMinutes int) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.recoveries = append(notifier.recoveries, downtimeMinutes)
}

func (notifier *fakeNotifier) SendOperatorAlert(ctx context.Context, operatorEmail, tenantID, tenantEmail, host string, failureCount int, lastError string) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.alerts = append(notifier.alerts, fmt.Sprintf("%s:%d:%s", tenantID, failureCount, lastError))
}

func (notifier *fakeNotifier) counts() (int, int, int) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	return len(notifier.downs), len(notifier.recoveries), len(notifier.alerts)
}

type harness struct {
	monitor  *Monitor
	store    *store.MemStore
	executor *fakeExecutor
	notifier *fakeNotifier
	clock    *clock.FakeClock
	box      *sealed.Box
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	identity, _, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	t.Cleanup(func() { identity.Close() })
	box, err := sealed.NewBox(identity)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	memStore := store.NewMemStore()
	executor := &fakeExecutor{}
	notifier := &fakeNotifier{}
	fakeClock := clock.Fake(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC))

	mon, err := New(Config{
		Store:         memStore,
		Executor:      executor,
		Box:           box,
		Notifier:      notifier,
		Clock:         fakeClock,
		Logger:        slog.New(slog.DiscardHandler),
		OperatorEmail: "ops@roost.example",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{
		monitor:  mon,
		store:    memStore,
		executor: executor,
		notifier: notifier,
		clock:    fakeClock,
		box:      box,
	}
}

// seedTenant stores a ready tenant whose key the monitor can decrypt.
func (h *harness) seedTenant(t *testing.T, tenantID string) {
	t.Helper()
	keyCiphertext, err := h.box.Seal([]byte("fake-pem"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	err = h.store.UpsertVM(context.Background(), &store.VMRecord{
		TenantID:            tenantID,
		TenantEmail:         tenantID + "@example.com",
		TenantName:          "Tenant " + tenantID,
		SubscriptionStatus:  store.SubscriptionActive,
		ProvisioningStatus:  store.ProvisioningReady,
		ProviderServerID:    1,
		VMAddress:           "203.0.113.60",
		VMProvisioned:       true,
		PrivateKeyEncrypted: keyCiphertext,
	})
	if err != nil {
		t.Fatalf("UpsertVM: %v", err)
	}
}

func (h *harness) health(t *testing.T, tenantID string) *store.HealthRecord {
	t.Helper()
	health, err := h.store.FindHealth(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("FindHealth: %v", err)
	}
	return health
}

func TestSweepHealthyTenant(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")

	if !h.monitor.Sweep(context.Background()) {
		t.Fatal("sweep was skipped")
	}

	health := h.health(t, "alpha")
	if health.Status != store.HealthHealthy {
		t.Errorf("status = %q, want healthy", health.Status)
	}
	if health.TotalChecks != 1 || health.TotalFailures != 0 {
		t.Errorf("counters = %d checks, %d failures", health.TotalChecks, health.TotalFailures)
	}
	if health.LastHealthyAt == nil || health.LastCheckAt == nil {
		t.Error("timestamps missing")
	}
	if downs, _, _ := h.notifier.counts(); downs != 0 {
		t.Error("healthy tenant was notified down")
	}
}

func TestUnreachableHostNeverRestarts(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, fmt.Errorf("%w: dial tcp: connection refused", sshexec.ErrConnect)
	})

	h.monitor.Sweep(context.Background())

	commands := h.executor.seen()
	if len(commands) != 1 {
		t.Fatalf("executed %d commands, want just the check", len(commands))
	}
	if strings.Contains(commands[0], "restart") {
		t.Error("restart attempted against an unreachable host")
	}

	health := h.health(t, "alpha")
	if health.Status != store.HealthDown {
		t.Errorf("status = %q, want down", health.Status)
	}
	if health.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d", health.ConsecutiveFailures)
	}
	if downs, _, _ := h.notifier.counts(); downs != 1 {
		t.Errorf("down notifications = %d, want 1", downs)
	}
}

func TestDownNotificationSuppressedWithinCooldown(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, sshexec.ErrConnect
	})

	// Two consecutive failing sweeps inside the cooldown window.
	h.monitor.Sweep(context.Background())
	h.clock.Advance(time.Minute)
	h.monitor.Sweep(context.Background())

	if downs, _, _ := h.notifier.counts(); downs != 1 {
		t.Errorf("down notifications = %d, want exactly 1", downs)
	}
}

func TestBreakerTripsAtThreeFailuresAlertsOnce(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, sshexec.ErrConnect
	})

	for i := 0; i < 3; i++ {
		h.monitor.Sweep(context.Background())
		h.clock.Advance(time.Minute)
	}

	health := h.health(t, "alpha")
	if health.Status != store.HealthCircuitOpen {
		t.Errorf("status = %q, want circuit_open", health.Status)
	}
	if health.CircuitState != breaker.Open {
		t.Errorf("circuit = %q, want open", health.CircuitState)
	}
	if _, _, alerts := h.notifier.counts(); alerts != 1 {
		t.Errorf("operator alerts = %d, want 1", alerts)
	}

	// A 4th failing check within the cooldown must not re-alert.
	h.monitor.Sweep(context.Background())
	if _, _, alerts := h.notifier.counts(); alerts != 1 {
		t.Errorf("operator alerts after 4th check = %d, want still 1", alerts)
	}
}

func TestCircuitOpenSkipsRestart(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")

	// Trip the breaker with three unreachable sweeps, then make the
	// host reachable with an inactive service.
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, sshexec.ErrConnect
	})
	for i := 0; i < 3; i++ {
		h.monitor.Sweep(context.Background())
	}
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return &sshexec.Result{Stdout: "inactive\n", ExitCode: 3}, nil
	})

	before := len(h.executor.seen())
	h.monitor.Sweep(context.Background())

	commands := h.executor.seen()[before:]
	if len(commands) != 1 {
		t.Fatalf("executed %d commands, want just the check", len(commands))
	}
	health := h.health(t, "alpha")
	if health.Status != store.HealthCircuitOpen {
		t.Errorf("status = %q, want circuit_open", health.Status)
	}
}

func TestRestartAfterCooldownAndRecoveryNotification(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")

	// One failing sweep: tenant notified down.
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, sshexec.ErrConnect
	})
	h.monitor.Sweep(context.Background())
	if downs, _, _ := h.notifier.counts(); downs != 1 {
		t.Fatalf("down notifications = %d", downs)
	}

	// Ten minutes later the host answers with an inactive service;
	// the breaker is closed, so a restart runs and succeeds.
	h.clock.Advance(10 * time.Minute)
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		if strings.Contains(command, "restart") {
			return &sshexec.Result{}, nil
		}
		return &sshexec.Result{Stdout: "inactive\n", ExitCode: 3}, nil
	})
	h.monitor.Sweep(context.Background())

	health := h.health(t, "alpha")
	if health.Status != store.HealthHealthy {
		t.Errorf("status = %q, want healthy", health.Status)
	}
	if health.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", health.ConsecutiveFailures)
	}
	if health.TotalRecoveries != 1 {
		t.Errorf("recoveries = %d, want 1", health.TotalRecoveries)
	}
	if health.LastRestartAttemptAt == nil {
		t.Error("restart attempt timestamp missing")
	}

	_, recoveries, _ := h.notifier.counts()
	if recoveries != 1 {
		t.Fatalf("recovery notifications = %d, want 1", recoveries)
	}
	if got := h.notifier.recoveries[0]; got != 10 {
		t.Errorf("reported downtime = %d minutes, want 10", got)
	}
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")

	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, sshexec.ErrConnect
	})
	for i := 0; i < 3; i++ {
		h.monitor.Sweep(context.Background())
	}

	// After the cooldown the breaker is effectively half-open and a
	// restart probe is allowed again.
	h.clock.Advance(breaker.Cooldown + time.Minute)
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		if strings.Contains(command, "restart") {
			return &sshexec.Result{}, nil
		}
		return &sshexec.Result{Stdout: "inactive\n", ExitCode: 3}, nil
	})
	h.monitor.Sweep(context.Background())

	health := h.health(t, "alpha")
	if health.Status != store.HealthHealthy {
		t.Errorf("status = %q, want healthy after probe", health.Status)
	}
	if health.CircuitState != breaker.Closed {
		t.Errorf("circuit = %q, want closed", health.CircuitState)
	}
}

func TestRestartFailureCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		if strings.Contains(command, "restart") {
			return &sshexec.Result{ExitCode: 1, Stderr: "unit masked\n"}, nil
		}
		return &sshexec.Result{Stdout: "inactive\n", ExitCode: 3}, nil
	})

	h.monitor.Sweep(context.Background())

	health := h.health(t, "alpha")
	if health.Status != store.HealthUnhealthy {
		t.Errorf("status = %q, want unhealthy", health.Status)
	}
	if health.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d", health.ConsecutiveFailures)
	}
	if !strings.Contains(health.LastError, "unit masked") {
		t.Errorf("last error = %q", health.LastError)
	}
}

func TestOverlappingSweepIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		once.Do(func() { close(started) })
		<-block
		return &sshexec.Result{Stdout: "active\n"}, nil
	})

	done := make(chan bool, 1)
	go func() { done <- h.monitor.Sweep(context.Background()) }()
	<-started

	if h.monitor.Sweep(context.Background()) {
		t.Error("overlapping sweep was not skipped")
	}

	close(block)
	if !<-done {
		t.Error("original sweep reported skipped")
	}
}

func TestSweepIsolatesTenantFailures(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")
	h.seedTenant(t, "bravo")
	h.executor.setHandle(func(target sshexec.Target, command string) (*sshexec.Result, error) {
		return nil, sshexec.ErrConnect
	})

	h.monitor.Sweep(context.Background())

	// Both tenants were checked despite both failing.
	for _, tenantID := range []string{"alpha", "bravo"} {
		health := h.health(t, tenantID)
		if health.TotalChecks != 1 {
			t.Errorf("%s checks = %d, want 1", tenantID, health.TotalChecks)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "alpha")
	ctx := context.Background()

	if err := h.monitor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.monitor.Start(ctx); err == nil {
		t.Error("second Start did not fail")
	}

	// A tick drives one sweep.
	h.clock.WaitForTimers(1)
	h.clock.Advance(defaultSweepInterval)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := h.store.FindHealth(ctx, "alpha"); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	health := h.health(t, "alpha")
	if health.TotalChecks < 1 {
		t.Error("tick did not drive a sweep")
	}

	h.monitor.Stop()
	// Stop twice is safe.
	h.monitor.Stop()

	if err := h.monitor.Start(ctx); err != nil {
		t.Errorf("restart after stop: %v", err)
	}
	h.monitor.Stop()
}
