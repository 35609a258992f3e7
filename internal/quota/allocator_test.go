package quota

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/store"
)

func TestAllocateQuotas_Proportional(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAllocator(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	if err := a.RegisterClient(ctx, ClientInfo{ID: "collector", Priority: 3}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := a.RegisterClient(ctx, ClientInfo{ID: "monitor", Priority: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	allocations, err := a.AllocateQuotas(ctx, exchange.Binance, exchange.KindRequest, 400)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if math.Abs(allocations["collector"]-300) > 1e-9 {
		t.Fatalf("expected collector quota 300, got %f", allocations["collector"])
	}
	if math.Abs(allocations["monitor"]-100) > 1e-9 {
		t.Fatalf("expected monitor quota 100, got %f", allocations["monitor"])
	}

	sum := 0.0
	for _, share := range allocations {
		sum += share
	}
	if math.Abs(sum-400) > 1e-9 {
		t.Fatalf("expected allocations to sum to total, got %f", sum)
	}
}

func TestAllocateQuotas_SumEqualsTotalForAnyPrioritySet(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAllocator(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	priorities := []int{1, 2, 3, 5, 7, 10}
	for i, p := range priorities {
		id := string(rune('a' + i))
		if err := a.RegisterClient(ctx, ClientInfo{ID: id, Priority: p}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	total := 1234.5
	allocations, err := a.AllocateQuotas(ctx, exchange.OKX, exchange.KindRequest, total)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	sum := 0.0
	for _, share := range allocations {
		sum += share
	}
	if math.Abs(sum-total) > 1e-6 {
		t.Fatalf("expected sum %f, got %f", total, sum)
	}
}

func TestActiveClients_FiltersStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAllocator(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	if err := a.RegisterClient(ctx, ClientInfo{ID: "fresh", Priority: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Advance past the staleness window, heartbeat only one client.
	now = now.Add(121 * time.Second)
	if err := a.RegisterClient(ctx, ClientInfo{ID: "newer", Priority: 4}); err != nil {
		t.Fatalf("register: %v", err)
	}

	clients, err := a.ActiveClients(ctx)
	if err != nil {
		t.Fatalf("active clients: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != "newer" {
		t.Fatalf("expected only %q active, got %v", "newer", clients)
	}

	// A heartbeat revives the stale client.
	if err := a.Heartbeat(ctx, "fresh"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	clients, err = a.ActiveClients(ctx)
	if err != nil {
		t.Fatalf("active clients: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 active clients, got %d", len(clients))
	}
}

func TestRegisterClient_DuplicateListEntries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAllocator(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.RegisterClient(ctx, ClientInfo{ID: "dup", Priority: 2}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	clients, err := a.ActiveClients(ctx)
	if err != nil {
		t.Fatalf("active clients: %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected re-registration to dedupe, got %d clients", len(clients))
	}
}

func TestAllocatedQuota_ReadBack(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAllocator(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	if err := a.RegisterClient(ctx, ClientInfo{ID: "only", Priority: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.AllocateQuotas(ctx, exchange.Binance, exchange.KindRequest, 600); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	share, err := a.AllocatedQuota(ctx, exchange.Binance, exchange.KindRequest, "only")
	if err != nil {
		t.Fatalf("read allocation: %v", err)
	}
	if math.Abs(share-600) > 1e-6 {
		t.Fatalf("expected share 600, got %f", share)
	}
	share, err = a.AllocatedQuota(ctx, exchange.Binance, exchange.KindRequest, "ghost")
	if err != nil {
		t.Fatalf("read absent allocation: %v", err)
	}
	if share != 0 {
		t.Fatalf("expected zero share for unknown client, got %f", share)
	}
}
