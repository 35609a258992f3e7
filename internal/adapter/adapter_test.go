package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/marketprism/rategov/internal/config"
	"github.com/marketprism/rategov/internal/coordinator"
)

func memoryConfig() config.Config {
	return config.Config{
		ServiceName:       "adapter-test",
		Priority:          5,
		HeartbeatInterval: time.Minute,
		Backend:           config.BackendConfig{Kind: config.BackendMemory},
		FallbackOnFailure: true,
		PrimaryIP:         "10.0.0.1",
	}
}

func TestNew_MemoryBackendIsFallbackMode(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.Mode() != coordinator.ModeFallback {
		t.Fatalf("expected fallback mode, got %q", a.Mode())
	}
}

func TestNew_UnreachableRedisDegrades(t *testing.T) {
	cfg := memoryConfig()
	cfg.Backend = config.BackendConfig{Kind: config.BackendRedis, Addr: "127.0.0.1:1", Prefix: "t"}

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("expected degradation instead of error, got %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.Mode() != coordinator.ModeFallback {
		t.Fatalf("expected fallback mode, got %q", a.Mode())
	}

	resp := a.AcquirePermit(context.Background(), coordinator.Request{Exchange: "binance", Weight: 1})
	if !resp.Granted {
		t.Fatalf("expected fallback limiter to grant, got reason %q", resp.Reason)
	}
	if resp.Mode != coordinator.ModeFallback {
		t.Fatalf("expected fallback-tagged response, got %q", resp.Mode)
	}
}

func TestNew_UnreachableRedisErrorsWithoutFallback(t *testing.T) {
	cfg := memoryConfig()
	cfg.Backend = config.BackendConfig{Kind: config.BackendRedis, Addr: "127.0.0.1:1"}
	cfg.FallbackOnFailure = false

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected connect error when fallback is disabled")
	}
}

func TestAcquirePermit_NeverErrors(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer func() { _ = a.Close() }()

	// Unknown exchange resolves to a structured denial, not a panic or error.
	resp := a.AcquirePermit(context.Background(), coordinator.Request{Exchange: "nope"})
	if resp.Granted {
		t.Fatalf("expected denial")
	}
	if resp.Reason == "" {
		t.Fatalf("expected a reason string")
	}

	var nilAdapter *Adapter
	resp = nilAdapter.AcquirePermit(context.Background(), coordinator.Request{Exchange: "binance"})
	if resp.Granted || resp.Mode != coordinator.ModeError {
		t.Fatalf("expected error-mode denial from nil adapter, got %+v", resp)
	}
}

func TestSystemStatus(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer func() { _ = a.Close() }()

	a.AcquirePermit(context.Background(), coordinator.Request{Exchange: "binance", Weight: 1})
	status := a.SystemStatus()
	if status.ServiceName != "adapter-test" {
		t.Fatalf("expected service name, got %q", status.ServiceName)
	}
	if status.Coordinator.ClientID == "" {
		t.Fatalf("expected coordinator client id")
	}
	if _, ok := status.Coordinator.IPManagement["binance"]; !ok {
		t.Fatalf("expected ip management entry for binance")
	}
}
