// Package adapter owns coordinator lifecycle: it loads configuration, builds
// the distributed coordinator, and degrades to a local-only limiter with the
// identical contract when the backend is unreachable.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/marketprism/rategov/internal/config"
	"github.com/marketprism/rategov/internal/coordinator"
	"github.com/marketprism/rategov/internal/quota"
	"github.com/marketprism/rategov/internal/store"

	log "github.com/sirupsen/logrus"
)

// Adapter is the process-wide entry surface. Construct one explicitly and
// pass it where needed; there is no package-level singleton.
type Adapter struct {
	coord *coordinator.Coordinator
	store store.Store
	mode  string
	cfg   config.Config
}

// New builds the adapter. A backend connect failure degrades permanently to
// fallback mode for this process instance when the config allows it; there
// is no automatic re-promotion back to distributed mode.
func New(ctx context.Context, cfg config.Config, observer coordinator.Observer) (*Adapter, error) {
	st, mode, errBackend := openBackend(ctx, cfg)
	if errBackend != nil {
		return nil, errBackend
	}

	coord, errCoord := coordinator.New(coordinator.Options{
		Store: st,
		Mode:  mode,
		Capabilities: coordinator.Capabilities{
			IPAware:       cfg.PrimaryIP != "",
			DynamicWeight: true,
		},
		ServiceName:       cfg.ServiceName,
		Priority:          cfg.Priority,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PrimaryIP:         cfg.PrimaryIP,
		BackupIPs:         cfg.BackupIPs,
		Observer:          observer,
	})
	if errCoord != nil {
		_ = st.Close()
		return nil, fmt.Errorf("adapter: build coordinator: %w", errCoord)
	}
	coord.Start()

	return &Adapter{coord: coord, store: st, mode: mode, cfg: cfg}, nil
}

// openBackend connects the configured store, falling back to the in-process
// store when the distributed one is unreachable and fallback is enabled.
func openBackend(ctx context.Context, cfg config.Config) (store.Store, string, error) {
	if cfg.Backend.Kind == config.BackendMemory {
		return store.NewMemoryStore(), coordinator.ModeFallback, nil
	}

	st, errDial := store.DialRedis(ctx, cfg.Backend.Addr, cfg.Backend.Password, cfg.Backend.DB, cfg.Backend.Prefix)
	if errDial == nil {
		return st, coordinator.ModeDistributed, nil
	}
	if !cfg.FallbackOnFailure {
		return nil, "", fmt.Errorf("adapter: connect backend %s: %w", cfg.Backend.Addr, errDial)
	}
	// Logged once here; every response from now on is tagged fallback.
	log.WithError(errDial).WithField("addr", cfg.Backend.Addr).
		Warn("adapter: backend unreachable, degrading to local-only limiting")
	return store.NewMemoryStore(), coordinator.ModeFallback, nil
}

// Mode reports "distributed" or "fallback".
func (a *Adapter) Mode() string { return a.mode }

// ClientID returns the coordinator's registered client id.
func (a *Adapter) ClientID() string { return a.coord.ClientID() }

// AcquirePermit asks for permission to make one exchange API call. It never
// returns an error: every failure mode resolves to a structured denial.
func (a *Adapter) AcquirePermit(ctx context.Context, req coordinator.Request) coordinator.Response {
	if a == nil || a.coord == nil {
		return coordinator.Response{
			Mode:      coordinator.ModeError,
			Reason:    "adapter not initialized",
			Timestamp: time.Now(),
		}
	}
	if req.ClientID == "" {
		req.ClientID = a.coord.ClientID()
	}
	return a.coord.AcquirePermit(ctx, req)
}

// ReportResponse feeds an observed exchange response into the IP state.
func (a *Adapter) ReportResponse(ctx context.Context, exchangeName string, statusCode int, headers http.Header, ip string) {
	if a == nil || a.coord == nil {
		return
	}
	a.coord.ReportResponse(ctx, exchangeName, statusCode, headers, ip)
}

// Unban lifts a ban on one IP, for operator intervention.
func (a *Adapter) Unban(ctx context.Context, ip string) bool {
	if a == nil || a.coord == nil {
		return false
	}
	return a.coord.Unban(ctx, ip)
}

// ActiveClients lists clients with a live heartbeat.
func (a *Adapter) ActiveClients(ctx context.Context) ([]quota.ClientInfo, error) {
	if a == nil || a.coord == nil {
		return nil, fmt.Errorf("adapter: not initialized")
	}
	return a.coord.ActiveClients(ctx)
}

// SystemStatus returns the full status view for the status API.
func (a *Adapter) SystemStatus() SystemStatus {
	hostname, _ := os.Hostname()
	status := SystemStatus{
		Hostname:    hostname,
		ServiceName: a.cfg.ServiceName,
		Mode:        a.mode,
		Coordinator: a.coord.SystemStatus(),
	}
	return status
}

// Close shuts down the coordinator and the store connection.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}
	if a.coord != nil {
		a.coord.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// SystemStatus is the adapter-level status document.
type SystemStatus struct {
	Hostname    string             `json:"hostname"`
	ServiceName string             `json:"service_name"`
	Mode        string             `json:"mode"`
	Coordinator coordinator.Status `json:"coordinator_info"`
}
