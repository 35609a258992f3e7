package bucket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/store"
)

func TestConsume_DrainsToDenial(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	// Order bucket: capacity equals orders/second, 10 for binance.
	capacity := 10
	for i := 0; i < capacity; i++ {
		decision, err := m.Consume(ctx, exchange.Binance, exchange.KindOrder, 1)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !decision.Granted {
			t.Fatalf("expected consume %d granted, remaining=%f", i, decision.Remaining)
		}
	}

	decision, err := m.Consume(ctx, exchange.Binance, exchange.KindOrder, 1)
	if err != nil {
		t.Fatalf("consume after drain: %v", err)
	}
	if decision.Granted {
		t.Fatalf("expected denial after draining %d tokens", capacity)
	}
	if decision.WaitTime <= 0 {
		t.Fatalf("expected positive wait time on denial, got %s", decision.WaitTime)
	}
}

func TestConsume_RefillsOverTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := m.Consume(ctx, exchange.Binance, exchange.KindOrder, 1); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
	decision, err := m.Consume(ctx, exchange.Binance, exchange.KindOrder, 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if decision.Granted {
		t.Fatalf("expected denial before refill")
	}

	now = now.Add(2 * time.Second)
	decision, err = m.Consume(ctx, exchange.Binance, exchange.KindOrder, 1)
	if err != nil {
		t.Fatalf("consume after refill: %v", err)
	}
	if !decision.Granted {
		t.Fatalf("expected grant after refill, remaining=%f", decision.Remaining)
	}
}

func TestConsume_CapsAtCapacity(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(store.NewMemoryStore(), func() time.Time { return now })
	ctx := context.Background()

	if _, err := m.Consume(ctx, exchange.Binance, exchange.KindOrder, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// A long idle period must not overfill the bucket.
	now = now.Add(time.Hour)
	remaining, capacity, err := m.Remaining(ctx, exchange.Binance, exchange.KindOrder)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != capacity {
		t.Fatalf("expected remaining capped at capacity %f, got %f", capacity, remaining)
	}
}

func TestConsume_UnknownExchange(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), nil)
	if _, err := m.Consume(context.Background(), "hyperliquid", exchange.KindRequest, 1); err == nil {
		t.Fatalf("expected error for unknown exchange")
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) HGetAll(_ context.Context, _ string) (map[string]string, error) {
	return nil, errors.New("backend down")
}

func TestConsume_StoreFailureSurfaces(t *testing.T) {
	m := NewManager(&failingStore{store.NewMemoryStore()}, nil)
	if _, err := m.Consume(context.Background(), exchange.Binance, exchange.KindRequest, 1); err == nil {
		t.Fatalf("expected store failure to surface as error")
	}
}
