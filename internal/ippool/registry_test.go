package ippool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/store"
)

func newTestRegistry(t *testing.T, nowFn func() time.Time, backups ...string) *Registry {
	t.Helper()
	r, err := NewRegistry(store.NewMemoryStore(), exchange.Binance, "10.0.0.1", backups, nowFn)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestRegistry_CurrentIPPrefersPrimary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return now }, "10.0.0.2", "10.0.0.3")

	if ip := r.CurrentIP(); ip != "10.0.0.1" {
		t.Fatalf("expected primary, got %s", ip)
	}
}

func TestRegistry_RotatesPastBannedIPs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }
	r := newTestRegistry(t, nowFn, "10.0.0.2", "10.0.0.3")
	ctx := context.Background()

	r.ReportStatus(ctx, "10.0.0.1", 418, 300*time.Second)
	if !r.IsBanned("10.0.0.1") {
		t.Fatalf("expected primary banned after 418")
	}
	if ip := r.CurrentIP(); ip != "10.0.0.2" {
		t.Fatalf("expected first backup, got %s", ip)
	}

	r.ReportStatus(ctx, "10.0.0.2", 418, 300*time.Second)
	if ip := r.CurrentIP(); ip != "10.0.0.3" {
		t.Fatalf("expected second backup, got %s", ip)
	}

	// All banned: primary returned anyway as the explicit degrade path.
	r.ReportStatus(ctx, "10.0.0.3", 418, 300*time.Second)
	if ip := r.CurrentIP(); ip != "10.0.0.1" {
		t.Fatalf("expected primary on full ban, got %s", ip)
	}

	// Bans lapse with time; primary is usable again.
	now = now.Add(301 * time.Second)
	if r.IsBanned("10.0.0.1") {
		t.Fatalf("expected ban lapsed")
	}
	if ip := r.CurrentIP(); ip != "10.0.0.1" {
		t.Fatalf("expected primary after lapse, got %s", ip)
	}
}

func TestRegistry_NextIPSkipsCurrent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return now }, "10.0.0.2")

	if ip := r.NextIP("10.0.0.1"); ip != "10.0.0.2" {
		t.Fatalf("expected backup, got %q", ip)
	}
	r.ReportStatus(context.Background(), "10.0.0.2", 418, time.Minute)
	if ip := r.NextIP("10.0.0.1"); ip != "" {
		t.Fatalf("expected no alternative, got %q", ip)
	}
}

func TestRegistry_ConsumeAndCaps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return now })
	ctx := context.Background()

	limits := r.Limits()
	if !r.CanMakeRequest("10.0.0.1", 1) {
		t.Fatalf("fresh IP must accept requests")
	}
	r.ConsumeRequest(ctx, "10.0.0.1", limits.WeightPerMinute, false)
	if r.CanMakeRequest("10.0.0.1", 1) {
		t.Fatalf("weight-exhausted IP must deny")
	}

	snapshot := r.Snapshot()
	detail := snapshot["10.0.0.1"]
	if detail.CurrentWeight != limits.WeightPerMinute {
		t.Fatalf("expected snapshot weight %d, got %d", limits.WeightPerMinute, detail.CurrentWeight)
	}
}

func TestRegistry_Unban(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return now })
	ctx := context.Background()

	r.ReportStatus(ctx, "10.0.0.1", 418, time.Hour)
	if !r.IsBanned("10.0.0.1") {
		t.Fatalf("expected banned")
	}
	if !r.Unban(ctx, "10.0.0.1") {
		t.Fatalf("expected unban to find the IP")
	}
	if r.IsBanned("10.0.0.1") {
		t.Fatalf("expected unbanned")
	}
	if r.Unban(ctx, "203.0.113.9") {
		t.Fatalf("expected unban of unknown IP to report false")
	}
}

func TestRegistry_ConcurrentConsumeAndReport(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return now }, "10.0.0.2")
	ctx := context.Background()

	const workers = 4
	const perWorker = 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				r.ConsumeRequest(ctx, "10.0.0.1", 1, false)
				r.ReportStatus(ctx, "10.0.0.1", 200, 0)
			}
		}()
	}
	wg.Wait()

	detail := r.Snapshot()["10.0.0.1"]
	if detail.CurrentRequests != workers*perWorker {
		t.Fatalf("expected %d requests counted, got %d", workers*perWorker, detail.CurrentRequests)
	}
	if detail.CurrentWeight != workers*perWorker {
		t.Fatalf("expected %d weight counted, got %d", workers*perWorker, detail.CurrentWeight)
	}
}
