package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleet_ledger/internal/clock"
)

// Task interface for scheduled tasks
type Task interface {
	Run(ctx context.Context) error
	Interval() time.Duration
	Name() string
}

// Scheduler manages multiple scheduled tasks
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	clock  clock.Clock
	tasks  []Task
	wg     sync.WaitGroup
}

// New creates a new task scheduler driven by clk
func New(ctx context.Context, clk clock.Clock) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		clock:  clk,
		tasks:  make([]Task, 0),
	}
}

// AddTask adds a task to the scheduler
func (s *Scheduler) AddTask(task Task) {
	s.tasks = append(s.tasks, task)
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() {
	slog.Info("Starting task scheduler")
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
	slog.Info("Task scheduler started", "task_count", len(s.tasks))
}

// Stop gracefully stops all tasks
func (s *Scheduler) Stop() {
	slog.Info("Stopping task scheduler")
	s.cancel()
	s.wg.Wait()
	slog.Info("Task scheduler stopped")
}

// runTask runs a single task on its schedule
func (s *Scheduler) runTask(task Task) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(task.Interval())
	defer ticker.Stop()

	// Run immediately on start
	s.run(task)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			s.run(task)
		}
	}
}

func (s *Scheduler) run(task Task) {
	start := s.clock.Now()
	if err := task.Run(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		slog.Error("Error running task", "task", task.Name(), "error", err)
		return
	}
	slog.Debug("Task finished", "task", task.Name(), "elapsed", s.clock.Now().Sub(start))
}
