// Package quota tracks registered client processes and distributes a shared
// rate limit budget across them in proportion to priority.
package quota

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/store"
)

// Registration and liveness windows.
const (
	clientTTL      = 300 * time.Second // Hash TTL, refreshed by heartbeats.
	staleAfter     = 120 * time.Second // Read-time liveness filter.
	allocationTTL  = 120 * time.Second // Per-client quota persistence TTL.
	clientListKey  = "clients"
	clientsKeyFmt  = "client:%s"
	quotaKeyFormat = "quota:%s:%s:%s"
)

// ClientInfo describes one registered client process.
type ClientInfo struct {
	ID            string
	ProcessID     int
	ServiceName   string
	Priority      int // 1-10, higher gets a larger quota share.
	LastHeartbeat time.Time
	Metadata      map[string]string
}

// Allocator is the client registry plus the proportional quota splitter.
type Allocator struct {
	store store.Store
	nowFn func() time.Time
}

// NewAllocator constructs an Allocator. A nil nowFn defaults to time.Now.
func NewAllocator(st store.Store, nowFn func() time.Time) *Allocator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Allocator{store: st, nowFn: nowFn}
}

func clientKey(id string) string {
	return fmt.Sprintf(clientsKeyFmt, id)
}

// RegisterClient upserts the client hash with a fresh TTL and appends the id
// to the shared client list. The list is never pruned; staleness is handled
// by the heartbeat-age filter in ActiveClients.
func (a *Allocator) RegisterClient(ctx context.Context, info ClientInfo) error {
	if info.ID == "" {
		return fmt.Errorf("quota: client id is required")
	}
	if info.Priority < 1 {
		info.Priority = 1
	}
	if info.Priority > 10 {
		info.Priority = 10
	}
	now := a.nowFn()

	fields := map[string]string{
		"client_id":      info.ID,
		"process_id":     strconv.Itoa(info.ProcessID),
		"service_name":   info.ServiceName,
		"priority":       strconv.Itoa(info.Priority),
		"last_heartbeat": strconv.FormatInt(now.Unix(), 10),
	}
	for k, v := range info.Metadata {
		fields["meta_"+k] = v
	}

	key := clientKey(info.ID)
	if errSet := a.store.HSet(ctx, key, fields); errSet != nil {
		return fmt.Errorf("quota: register %s: %w", info.ID, errSet)
	}
	if errExpire := a.store.Expire(ctx, key, clientTTL); errExpire != nil {
		return fmt.Errorf("quota: expire %s: %w", info.ID, errExpire)
	}
	if errAppend := a.store.LAppend(ctx, clientListKey, info.ID); errAppend != nil {
		return fmt.Errorf("quota: append client list: %w", errAppend)
	}
	return nil
}

// Heartbeat refreshes the client's liveness timestamp and TTL.
func (a *Allocator) Heartbeat(ctx context.Context, id string) error {
	key := clientKey(id)
	fields := map[string]string{
		"last_heartbeat": strconv.FormatInt(a.nowFn().Unix(), 10),
	}
	if errSet := a.store.HSet(ctx, key, fields); errSet != nil {
		return fmt.Errorf("quota: heartbeat %s: %w", id, errSet)
	}
	if errExpire := a.store.Expire(ctx, key, clientTTL); errExpire != nil {
		return fmt.Errorf("quota: heartbeat expire %s: %w", id, errExpire)
	}
	return nil
}

// ActiveClients returns clients whose heartbeat is within the staleness
// window, deduplicated and sorted by id for deterministic allocation.
func (a *Allocator) ActiveClients(ctx context.Context) ([]ClientInfo, error) {
	ids, errRange := a.store.LRange(ctx, clientListKey, 0, -1)
	if errRange != nil {
		return nil, fmt.Errorf("quota: read client list: %w", errRange)
	}
	now := a.nowFn()
	seen := make(map[string]bool, len(ids))
	clients := make([]ClientInfo, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		fields, errRead := a.store.HGetAll(ctx, clientKey(id))
		if errRead != nil {
			return nil, fmt.Errorf("quota: read client %s: %w", id, errRead)
		}
		if len(fields) == 0 {
			continue
		}
		info := clientFromFields(id, fields)
		if now.Sub(info.LastHeartbeat) > staleAfter {
			continue
		}
		clients = append(clients, info)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

// AllocateQuotas splits total across active clients proportionally to
// priority and persists each share with a short TTL. Unused quota from idle
// clients is deliberately not redistributed.
func (a *Allocator) AllocateQuotas(ctx context.Context, exchangeName string, kind exchange.CallKind, total float64) (map[string]float64, error) {
	clients, errActive := a.ActiveClients(ctx)
	if errActive != nil {
		return nil, errActive
	}
	allocations := make(map[string]float64, len(clients))
	if len(clients) == 0 || total <= 0 {
		return allocations, nil
	}

	prioritySum := 0
	for _, c := range clients {
		prioritySum += c.Priority
	}
	for _, c := range clients {
		share := total * float64(c.Priority) / float64(prioritySum)
		allocations[c.ID] = share
		key := fmt.Sprintf(quotaKeyFormat, exchange.Normalize(exchangeName), kind, c.ID)
		value := strconv.FormatFloat(share, 'f', 6, 64)
		if errSet := a.store.Set(ctx, key, value, allocationTTL); errSet != nil {
			return nil, fmt.Errorf("quota: persist allocation for %s: %w", c.ID, errSet)
		}
	}
	return allocations, nil
}

// AllocatedQuota reads one client's persisted share, zero when absent.
func (a *Allocator) AllocatedQuota(ctx context.Context, exchangeName string, kind exchange.CallKind, clientID string) (float64, error) {
	key := fmt.Sprintf(quotaKeyFormat, exchange.Normalize(exchangeName), kind, clientID)
	raw, errGet := a.store.Get(ctx, key)
	if errGet != nil {
		if errGet == store.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("quota: read allocation: %w", errGet)
	}
	parsed, errParse := strconv.ParseFloat(raw, 64)
	if errParse != nil {
		return 0, fmt.Errorf("quota: malformed allocation %q: %w", raw, errParse)
	}
	return parsed, nil
}

func clientFromFields(id string, fields map[string]string) ClientInfo {
	info := ClientInfo{ID: id, Priority: 1}
	if v, err := strconv.Atoi(fields["process_id"]); err == nil {
		info.ProcessID = v
	}
	info.ServiceName = fields["service_name"]
	if v, err := strconv.Atoi(fields["priority"]); err == nil && v > 0 {
		info.Priority = v
	}
	if v, err := strconv.ParseInt(fields["last_heartbeat"], 10, 64); err == nil {
		info.LastHeartbeat = time.Unix(v, 0)
	}
	for k, v := range fields {
		if len(k) > 5 && k[:5] == "meta_" {
			if info.Metadata == nil {
				info.Metadata = make(map[string]string)
			}
			info.Metadata[k[5:]] = v
		}
	}
	return info
}
