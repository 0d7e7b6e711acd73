// Package scheduler implements the cron-scheduling collaborator named in
// spec.md §6: it owns the schedules/<name> Store collection and triggers a
// graph-instance launch through a callback into the master Engine.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/pkg/models"
)

// LaunchFunc is called when a scheduled graph's cron expression fires. It
// should add a fresh instance and transition it to running — i.e. call
// through to the Engine exactly as a POST .../launch handler would.
type LaunchFunc func(ctx context.Context, graphName string) error

// CronScheduler manages cron-based launches for ScheduledGraph entries
// persisted in the schedules/ collection, grounded in the teacher's
// internal/scheduler/cron.go (robfig/cron/v3 wrapper).
type CronScheduler struct {
	cron     *cron.Cron
	location *time.Location
	launch   LaunchFunc
	store    storage.Store // schedules/ collection

	mu      sync.RWMutex
	entries map[string]cron.EntryID // graph_name -> entryID
}

func NewCronScheduler(location *time.Location, store storage.Store, launch LaunchFunc) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	return &CronScheduler{
		cron:     cron.New(cron.WithLocation(location), cron.WithSeconds()),
		location: location,
		launch:   launch,
		store:    store,
		entries:  make(map[string]cron.EntryID),
	}
}

func (cs *CronScheduler) Start() { cs.cron.Start() }

// Stop stops the cron scheduler and waits for any in-flight launch callback
// to finish.
func (cs *CronScheduler) Stop() {
	ctx := cs.cron.Stop()
	<-ctx.Done()
}

// LoadFromStore registers every enabled ScheduledGraph found in the
// schedules/ collection — called once at master startup, mirroring the
// Engine's own crash-recovery scan for running instances.
func (cs *CronScheduler) LoadFromStore(ctx context.Context) error {
	entries, err := cs.store.Iterate(ctx, "", "", "")
	if err != nil {
		return fmt.Errorf("scan schedules: %w", err)
	}
	for _, entry := range entries {
		var sched models.ScheduledGraph
		if err := json.Unmarshal(entry.Doc, &sched); err != nil {
			continue
		}
		if !sched.Enabled {
			continue
		}
		if err := cs.AddGraph(sched.GraphName, sched.CronExpr); err != nil {
			return fmt.Errorf("register schedule for %s: %w", sched.GraphName, err)
		}
	}
	return nil
}

// AddGraph registers graphName on cronExpr, firing Launch on every tick.
func (cs *CronScheduler) AddGraph(graphName, cronExpr string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.entries[graphName]; exists {
		return fmt.Errorf("graph %s is already scheduled", graphName)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	entryID, err := cs.cron.AddFunc(cronExpr, func() {
		if err := cs.launch(context.Background(), graphName); err != nil {
			// The launch error is discarded here and not logged; the
			// scheduler keeps running regardless of one failed launch.
			_ = err
		}
	})
	if err != nil {
		return fmt.Errorf("add cron job for %s: %w", graphName, err)
	}

	cs.entries[graphName] = entryID
	return nil
}

func (cs *CronScheduler) RemoveGraph(graphName string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if entryID, exists := cs.entries[graphName]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, graphName)
	}
}

func (cs *CronScheduler) ScheduledGraphs() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	names := make([]string, 0, len(cs.entries))
	for name := range cs.entries {
		names = append(names, name)
	}
	return names
}

func (cs *CronScheduler) NextExecution(graphName string) (*time.Time, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	entryID, exists := cs.entries[graphName]
	if !exists {
		return nil, fmt.Errorf("graph %s is not scheduled", graphName)
	}
	entry := cs.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil, fmt.Errorf("no cron entry for graph %s", graphName)
	}
	next := entry.Next
	return &next, nil
}

func (cs *CronScheduler) IsRegistered(graphName string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	_, exists := cs.entries[graphName]
	return exists
}
