// Package heartbeat implements the worker's NATS liveness ping, grounded in
// the teacher's executor.Worker.sendHeartbeats (internal/executor/worker.go):
// a 10-second ticker publishing a small JSON payload on a well-known subject.
// It is pure ambient telemetry — nothing in internal/taskmentor or
// internal/workerclient blocks on or reads it (spec.md §7, SPEC_FULL.md §6.1).
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subject is the well-known NATS subject every worker publishes on.
const Subject = "dedalus.worker.heartbeat"

const interval = 10 * time.Second

// Beat is one worker's liveness ping.
type Beat struct {
	WorkerID    string    `json:"worker_id"`
	Hostname    string    `json:"hostname"`
	ActiveTasks int       `json:"active_tasks"`
	Timestamp   time.Time `json:"timestamp"`
}

// ActiveTaskCounter reports how many tasks a worker is currently executing,
// implemented by internal/workerengine.Engine.
type ActiveTaskCounter interface {
	ActiveTaskCount() int
}

// Publisher runs the worker-side ticker loop.
type Publisher struct {
	nc       *nats.Conn
	workerID string
	hostname string
	counter  ActiveTaskCounter
}

func NewPublisher(nc *nats.Conn, workerID, hostname string, counter ActiveTaskCounter) *Publisher {
	return &Publisher{nc: nc, workerID: workerID, hostname: hostname, counter: counter}
}

// Run blocks, publishing one Beat every 10 seconds until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	beat := Beat{
		WorkerID:    p.workerID,
		Hostname:    p.hostname,
		ActiveTasks: p.counter.ActiveTaskCount(),
		Timestamp:   time.Now(),
	}
	data, err := json.Marshal(beat)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal heartbeat")
		return
	}
	if err := p.nc.Publish(Subject, data); err != nil {
		logrus.WithError(err).Warn("failed to publish heartbeat")
	}
}

// Tracker is the master-side collaborator: it subscribes to Subject and
// keeps a last-seen map purely for the /health endpoint to report degraded
// workers. It is never consulted for dispatch decisions — a persistent
// failure surfaces because the host's task state stops progressing, per
// spec.md §7, not because a heartbeat went missing.
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[string]Beat
}

func NewTracker() *Tracker {
	return &Tracker{lastSeen: make(map[string]Beat)}
}

// Subscribe wires the tracker to a live NATS connection; it runs until ctx
// is cancelled or the subscription fails.
func (t *Tracker) Subscribe(ctx context.Context, nc *nats.Conn) error {
	sub, err := nc.Subscribe(Subject, func(msg *nats.Msg) {
		var beat Beat
		if err := json.Unmarshal(msg.Data, &beat); err != nil {
			logrus.WithError(err).Warn("dropping malformed heartbeat")
			return
		}
		t.record(beat)
	})
	if err != nil {
		return fmt.Errorf("heartbeat: subscribe: %w", err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (t *Tracker) record(beat Beat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[beat.WorkerID] = beat
}

// Snapshot returns the last-seen Beat for every worker observed so far.
func (t *Tracker) Snapshot() map[string]Beat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Beat, len(t.lastSeen))
	for k, v := range t.lastSeen {
		out[k] = v
	}
	return out
}

// Stale reports workers whose last heartbeat is older than within.
func (t *Tracker) Stale(within time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := time.Now().Add(-within)
	var stale []string
	for id, beat := range t.lastSeen {
		if beat.Timestamp.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}
