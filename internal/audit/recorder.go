// Package audit persists ban events and sampled permit decisions for
// offline analysis. Recording is asynchronous and best-effort; it never
// blocks the permit path.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/marketprism/rategov/internal/coordinator"
	"github.com/marketprism/rategov/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
	// Grants are sampled; denials and bans are always recorded.
	grantSampleEvery = 100
)

// Recorder implements coordinator.Observer on top of the audit database.
type Recorder struct {
	db *gorm.DB

	ch   chan any
	wg   sync.WaitGroup
	once sync.Once

	mu         sync.Mutex
	grantCount uint64
}

// NewRecorder constructs a Recorder and starts its writer goroutine.
// A nil db yields a no-op recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	r := &Recorder{db: db, ch: make(chan any, queueSize)}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for item := range r.ch {
		if r.db == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if errCreate := r.db.WithContext(ctx).Create(item).Error; errCreate != nil {
			log.WithError(errCreate).Warn("audit: persist failed")
		}
		cancel()
	}
}

// enqueue drops the record when the queue is full rather than blocking.
func (r *Recorder) enqueue(item any) {
	select {
	case r.ch <- item:
	default:
	}
}

// ObservePermit records denials always and grants once per sampling window.
func (r *Recorder) ObservePermit(req coordinator.Request, resp coordinator.Response) {
	if r == nil {
		return
	}
	if resp.Granted {
		r.mu.Lock()
		r.grantCount++
		sampled := r.grantCount%grantSampleEvery == 1
		r.mu.Unlock()
		if !sampled {
			return
		}
	}
	meta, _ := json.Marshal(map[string]any{
		"request_id": resp.RequestID,
		"wait_time":  resp.WaitTime.Seconds(),
	})
	r.enqueue(&models.PermitSample{
		ClientID:  req.ClientID,
		Exchange:  req.Exchange,
		CallKind:  string(req.CallKind),
		Endpoint:  req.Endpoint,
		Weight:    resp.Weight,
		Granted:   resp.Granted,
		Reason:    resp.Reason,
		Mode:      resp.Mode,
		IPAddress: resp.IPAddress,
		Metadata:  datatypes.JSON(meta),
		CreatedAt: resp.Timestamp,
	})
}

// ObserveBan records every 429/418 observation.
func (r *Recorder) ObserveBan(exchangeName, ip string, statusCode int, retryAfter time.Duration) {
	if r == nil {
		return
	}
	r.enqueue(&models.BanEvent{
		Exchange:          exchangeName,
		IP:                ip,
		StatusCode:        statusCode,
		RetryAfterSeconds: int(retryAfter.Seconds()),
		CreatedAt:         time.Now().UTC(),
	})
}

// Close drains the queue and stops the writer.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() { close(r.ch) })
	r.wg.Wait()
}
