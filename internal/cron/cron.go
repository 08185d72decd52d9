// Package cron maintains a registry of named, cron-expressed periodic
// tasks, each of which fires on exactly one scheduler instance at a time.
// Grounded on the teacher's internal/scheduler (distributed lock + state
// tracking), generalized to use robfig/cron/v3 for expression parsing
// instead of hand-rolled next-run arithmetic, per spec.md §4.3.
package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	robfigcron "github.com/robfig/cron/v3"
	"github.com/redis/go-redis/v9"

	"github.com/jakekausler/campaign-scheduler/internal/alert"
	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
)

// Callback is the work a task performs each time it fires.
type Callback func(ctx context.Context) error

type task struct {
	name       string
	expression string
	callback   Callback
	entryID    robfigcron.EntryID
	enabled    atomic.Bool
	running    atomic.Bool
}

// Scheduler runs named cron tasks and guards each against overlapping
// firings, both within this process (running flag) and across a fleet of
// scheduler instances (Redis lock).
type Scheduler struct {
	mu      sync.RWMutex
	engine  *robfigcron.Cron
	tasks   map[string]*task
	client  *redis.Client
	lockTTL time.Duration
	isProd  bool
	log     logger.Logger
}

// NewScheduler creates a Scheduler. client is used for the cross-instance
// lock; isProduction controls whether a failed firing also raises a
// critical alert (spec.md §4.3).
func NewScheduler(client *redis.Client, isProduction bool) *Scheduler {
	return &Scheduler{
		engine:  robfigcron.New(),
		tasks:   make(map[string]*task),
		client:  client,
		lockTTL: 60 * time.Second,
		isProd:  isProduction,
		log:     logger.Default().WithComponent(logger.ComponentCron),
	}
}

// Register adds a named task with the given cron expression. The task
// starts enabled.
func (s *Scheduler) Register(name, expression string, callback Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &task{name: name, expression: expression, callback: callback}
	t.enabled.Store(true)

	entryID, err := s.engine.AddFunc(expression, func() { s.fire(t) })
	if err != nil {
		return fmt.Errorf("cron: invalid expression %q for task %q: %w", expression, name, err)
	}
	t.entryID = entryID
	s.tasks[name] = t
	return nil
}

// Start begins firing registered tasks on their schedules.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting cron scheduler", "tasks", len(s.tasks))
	s.engine.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the engine and waits for any in-flight firing to finish.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping cron scheduler")
	stopCtx := s.engine.Stop()
	<-stopCtx.Done()
}

// Enable re-arms a disabled task. Idempotent; unknown name returns
// ErrNoSuchTask.
func (s *Scheduler) Enable(name string) error {
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	t.enabled.Store(true)
	return nil
}

// Disable arms a task off; its next firing is skipped and logged rather
// than executed. Idempotent; unknown name returns ErrNoSuchTask.
func (s *Scheduler) Disable(name string) error {
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	t.enabled.Store(false)
	return nil
}

// Status reports the enabled state of every registered task.
func (s *Scheduler) Status() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.tasks))
	for name, t := range s.tasks {
		out[name] = t.enabled.Load()
	}
	return out
}

func (s *Scheduler) lookup(name string) (*task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	if !ok {
		return nil, scheduleerrors.ErrNoSuchTask
	}
	return t, nil
}

// fire runs a task's callback, enforcing single-instance-per-task execution
// both locally (running flag) and across the fleet (distributed lock).
func (s *Scheduler) fire(t *task) {
	if !t.enabled.Load() {
		s.log.Debug("Task disabled, skipping firing", "task", t.name)
		return
	}

	if !t.running.CompareAndSwap(false, true) {
		s.log.Warn("Previous firing still running, dropping this tick", "task", t.name)
		return
	}
	defer t.running.Store(false)

	ctx := context.Background()
	lockKey := "scheduler:cron_lock:" + t.name
	lock, err := acquireLock(ctx, s.client, lockKey, s.lockTTL)
	if err != nil {
		s.log.Error("Failed to acquire cron lock", "task", t.name, "error", err)
		return
	}
	if lock == nil {
		s.log.Debug("Task locked by another instance, skipping", "task", t.name)
		return
	}
	defer func() {
		if err := lock.release(ctx); err != nil {
			s.log.Error("Failed to release cron lock", "task", t.name, "error", err)
		}
	}()

	start := time.Now()
	err = s.runCallback(ctx, t)
	duration := time.Since(start)

	if err != nil {
		s.log.Error("Task firing failed", "task", t.name, "duration", duration, "error", err)
		if s.isProd {
			alert.Critical(ctx, "cron", fmt.Sprintf("task %q failed", t.name), map[string]interface{}{
				"task":     t.name,
				"error":    err.Error(),
				"duration": duration.String(),
			})
		}
		return
	}
	s.log.Debug("Task firing succeeded", "task", t.name, "duration", duration)
}

// runCallback invokes t.callback, converting a panic into an error so one
// broken task can never take down the scheduler's goroutine.
func (s *Scheduler) runCallback(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = scheduleerrors.NewPanicError(r)
		}
	}()
	return t.callback(ctx)
}
