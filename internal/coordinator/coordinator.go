package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketprism/rategov/internal/bucket"
	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/ippool"
	"github.com/marketprism/rategov/internal/quota"
	"github.com/marketprism/rategov/internal/store"
	"github.com/marketprism/rategov/internal/weight"

	log "github.com/sirupsen/logrus"
)

// Options configure a Coordinator.
type Options struct {
	Store             store.Store
	Mode              string // ModeDistributed or ModeFallback.
	Capabilities      Capabilities
	ClientID          string // Generated when empty.
	ServiceName       string
	Priority          int
	HeartbeatInterval time.Duration
	PrimaryIP         string
	BackupIPs         []string
	Observer          Observer // Optional.
	NowFn             func() time.Time
}

// Coordinator orchestrates weight calculation, IP selection, and token
// bucket consumption over one shared store.
type Coordinator struct {
	store   store.Store
	calc    *weight.Calculator
	buckets *bucket.Manager
	quotas  *quota.Allocator
	caps    Capabilities
	mode    string

	clientID          string
	serviceName       string
	priority          int
	heartbeatInterval time.Duration
	primaryIP         string
	backupIPs         []string
	observer          Observer
	nowFn             func() time.Time

	regMu      sync.Mutex
	registries map[string]*ippool.Registry

	seenMu        sync.Mutex
	seenExchanges map[string]bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Coordinator and registers its client with the allocator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("coordinator: store is required")
	}
	if opts.Capabilities.IPAware && opts.PrimaryIP == "" {
		return nil, fmt.Errorf("coordinator: ip-aware mode requires a primary IP")
	}
	if opts.Mode == "" {
		opts.Mode = ModeDistributed
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Priority < 1 {
		opts.Priority = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}

	c := &Coordinator{
		store:             opts.Store,
		calc:              weight.NewCalculator(),
		buckets:           bucket.NewManager(opts.Store, nowFn),
		quotas:            quota.NewAllocator(opts.Store, nowFn),
		caps:              opts.Capabilities,
		mode:              opts.Mode,
		clientID:          opts.ClientID,
		serviceName:       opts.ServiceName,
		priority:          opts.Priority,
		heartbeatInterval: opts.HeartbeatInterval,
		primaryIP:         opts.PrimaryIP,
		backupIPs:         opts.BackupIPs,
		observer:          opts.Observer,
		nowFn:             nowFn,
		registries:        make(map[string]*ippool.Registry),
		seenExchanges:     make(map[string]bool),
		stopCh:            make(chan struct{}),
	}

	registerCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errRegister := c.quotas.RegisterClient(registerCtx, quota.ClientInfo{
		ID:          c.clientID,
		ServiceName: c.serviceName,
		Priority:    c.priority,
	}); errRegister != nil {
		return nil, fmt.Errorf("coordinator: register client: %w", errRegister)
	}
	return c, nil
}

// ClientID returns the registered client id.
func (c *Coordinator) ClientID() string { return c.clientID }

// Mode returns the mode tag stamped on responses.
func (c *Coordinator) Mode() string { return c.mode }

// Start launches the background heartbeat loop. Heartbeats run independently
// of in-flight permits; a missed one only degrades allocation fairness.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.heartbeatLoop()
	})
}

// Close stops the heartbeat loop and waits for it.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if errBeat := c.quotas.Heartbeat(ctx, c.clientID); errBeat != nil {
				log.WithError(errBeat).Debug("coordinator: heartbeat failed")
			}
			c.reallocate(ctx)
			cancel()
		}
	}
}

// reallocate refreshes quota shares for every exchange seen so far.
func (c *Coordinator) reallocate(ctx context.Context) {
	c.seenMu.Lock()
	names := make([]string, 0, len(c.seenExchanges))
	for name := range c.seenExchanges {
		names = append(names, name)
	}
	c.seenMu.Unlock()
	for _, name := range names {
		limits, ok := exchange.LimitsFor(name)
		if !ok {
			continue
		}
		if _, errAlloc := c.quotas.AllocateQuotas(ctx, name, exchange.KindRequest, float64(limits.WeightPerMinute)); errAlloc != nil {
			log.WithError(errAlloc).WithField("exchange", name).Debug("coordinator: quota allocation failed")
		}
	}
}

func (c *Coordinator) registry(exchangeName string) (*ippool.Registry, error) {
	name := exchange.Normalize(exchangeName)
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if r, ok := c.registries[name]; ok {
		return r, nil
	}
	r, errNew := ippool.NewRegistry(c.store, name, c.primaryIP, c.backupIPs, c.nowFn)
	if errNew != nil {
		return nil, errNew
	}
	c.registries[name] = r
	return r, nil
}

func validKind(kind exchange.CallKind) bool {
	switch kind {
	case exchange.KindRequest, exchange.KindOrder, exchange.KindStream:
		return true
	}
	return false
}

// AcquirePermit decides whether the caller may make the described call now.
// It never returns an error; every failure mode is a structured denial.
func (c *Coordinator) AcquirePermit(ctx context.Context, req Request) Response {
	now := c.nowFn()
	resp := Response{
		Mode:      c.mode,
		Timestamp: now,
		RequestID: req.RequestID,
	}
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	if req.CallKind == "" {
		req.CallKind = exchange.KindRequest
	}

	if !exchange.Known(req.Exchange) {
		resp.Reason = fmt.Sprintf("%s: %s", ReasonUnknownExchange, req.Exchange)
		c.observe(req, resp)
		return resp
	}
	if !validKind(req.CallKind) {
		resp.Reason = fmt.Sprintf("%s: %s", ReasonUnknownCallKind, req.CallKind)
		c.observe(req, resp)
		return resp
	}

	c.seenMu.Lock()
	c.seenExchanges[exchange.Normalize(req.Exchange)] = true
	c.seenMu.Unlock()

	// Store writes triggered below must run to completion even when the
	// caller cancels mid-flight, so counters are never half-updated.
	writeCtx := context.WithoutCancel(ctx)

	if errBeat := c.quotas.Heartbeat(writeCtx, c.clientID); errBeat != nil {
		log.WithError(errBeat).Debug("coordinator: permit-path heartbeat failed")
	}

	w := req.Weight
	if c.caps.DynamicWeight {
		w = c.calc.Weight(req.Exchange, req.Endpoint, req.Params, req.CallKind)
	}
	if w <= 0 {
		w = weight.DefaultWeight
	}
	resp.Weight = w

	var reg *ippool.Registry
	var ip string
	if c.caps.IPAware {
		var errReg error
		reg, errReg = c.registry(req.Exchange)
		if errReg != nil {
			resp.Reason = fmt.Sprintf("%s: %v", ReasonBackendDegraded, errReg)
			resp.Mode = ModeError
			c.observe(req, resp)
			return resp
		}
		ip = reg.CurrentIP()
		if !reg.CanMakeRequest(ip, w) {
			// One rotation attempt, then give up for this permit.
			if next := reg.NextIP(ip); next != "" && reg.CanMakeRequest(next, w) {
				ip = next
			} else {
				resp.IPAddress = ip
				resp.Reason = fmt.Sprintf("%s: ip %s", ReasonIPExhausted, ip)
				resp.WaitTime = time.Minute
				c.observe(req, resp)
				return resp
			}
		}
		resp.IPAddress = ip
	}

	decision, errConsume := c.buckets.Consume(writeCtx, req.Exchange, req.CallKind, w)
	if errConsume != nil {
		// Fail closed: admitting calls blind would walk straight into a ban.
		log.WithError(errConsume).Warn("coordinator: token bucket unavailable")
		resp.Reason = ReasonBackendDegraded
		resp.Mode = ModeError
		c.observe(req, resp)
		return resp
	}

	resp.RemainingQuota = decision.Remaining
	resp.TotalQuota = decision.Capacity
	if !decision.Granted {
		resp.Reason = ReasonOverQuota
		resp.WaitTime = decision.WaitTime
		c.observe(req, resp)
		return resp
	}

	if reg != nil {
		reg.ConsumeRequest(writeCtx, ip, w, req.CallKind == exchange.KindOrder)
	}
	resp.Granted = true
	resp.Reason = ReasonGranted
	c.observe(req, resp)
	return resp
}

func (c *Coordinator) observe(req Request, resp Response) {
	if c.observer != nil {
		c.observer.ObservePermit(req, resp)
	}
}

// ReportResponse absorbs an observed exchange response for an IP. Usage
// headers are parsed for observability only; they are never fed back into
// the local buckets, so local and exchange-reported usage can drift.
func (c *Coordinator) ReportResponse(ctx context.Context, exchangeName string, statusCode int, headers http.Header, ip string) {
	if !exchange.Known(exchangeName) {
		return
	}
	retryAfter := parseRetryAfter(headers)

	if used := usedWeightFromHeaders(headers); used >= 0 {
		log.WithFields(log.Fields{
			"exchange":    exchange.Normalize(exchangeName),
			"ip":          ip,
			"used_weight": used,
			"status":      statusCode,
		}).Debug("coordinator: exchange-reported usage")
	}

	if !c.caps.IPAware || ip == "" {
		return
	}
	reg, errReg := c.registry(exchangeName)
	if errReg != nil {
		log.WithError(errReg).Warn("coordinator: report dropped, no registry")
		return
	}
	reg.ReportStatus(context.WithoutCancel(ctx), ip, statusCode, retryAfter)

	if (statusCode == 429 || statusCode == 418) && c.observer != nil {
		c.observer.ObserveBan(exchange.Normalize(exchangeName), ip, statusCode, retryAfter)
	}
}

// Unban lifts a ban on one IP across every registry that tracks it.
func (c *Coordinator) Unban(ctx context.Context, ip string) bool {
	c.regMu.Lock()
	regs := make([]*ippool.Registry, 0, len(c.registries))
	for _, r := range c.registries {
		regs = append(regs, r)
	}
	c.regMu.Unlock()
	found := false
	for _, r := range regs {
		if r.Unban(ctx, ip) {
			found = true
		}
	}
	return found
}

// ActiveClients exposes the allocator's registry view.
func (c *Coordinator) ActiveClients(ctx context.Context) ([]quota.ClientInfo, error) {
	return c.quotas.ActiveClients(ctx)
}

// SystemStatus returns the coordinator and per-IP view for the status API.
func (c *Coordinator) SystemStatus() Status {
	status := Status{
		ClientID:     c.clientID,
		ServiceName:  c.serviceName,
		Priority:     c.priority,
		Mode:         c.mode,
		Capabilities: c.caps,
	}

	c.seenMu.Lock()
	for name := range c.seenExchanges {
		status.Exchanges = append(status.Exchanges, name)
	}
	c.seenMu.Unlock()

	if !c.caps.IPAware {
		return status
	}
	status.IPManagement = make(map[string]IPStatus)
	c.regMu.Lock()
	regs := make(map[string]*ippool.Registry, len(c.registries))
	for name, r := range c.registries {
		regs[name] = r
	}
	c.regMu.Unlock()
	for name, r := range regs {
		details := make(map[string]IPDetails)
		for ip, d := range r.Snapshot() {
			details[ip] = IPDetails{
				Status:          string(d.Status),
				CurrentRequests: d.CurrentRequests,
				MaxRequests:     d.MaxRequests,
				CurrentWeight:   d.CurrentWeight,
				MaxWeight:       d.MaxWeight,
				WarningCount:    d.WarningCount,
				BanRemainingSec: d.BanRemaining.Seconds(),
			}
		}
		status.IPManagement[name] = IPStatus{
			CurrentIP: r.CurrentIP(),
			IPDetails: details,
		}
	}
	return status
}

// parseRetryAfter reads a Retry-After header, accepting both the
// delta-seconds and the HTTP-date form. Unparseable or past values yield 0,
// leaving the escalating default backoff in charge.
func parseRetryAfter(headers http.Header) time.Duration {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, errParse := strconv.Atoi(raw); errParse == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, errParse := http.ParseTime(raw); errParse == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}

// usedWeightFromHeaders extracts a vendor used-weight header, -1 when absent.
func usedWeightFromHeaders(headers http.Header) int {
	for name, values := range headers {
		upper := strings.ToUpper(name)
		if !strings.HasPrefix(upper, "X-MBX-USED-WEIGHT") && !strings.HasPrefix(upper, "X-SAPI-USED") {
			continue
		}
		if len(values) == 0 {
			continue
		}
		if parsed, errParse := strconv.Atoi(strings.TrimSpace(values[0])); errParse == nil {
			return parsed
		}
	}
	return -1
}
