package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"fleet_ledger/internal/airworthiness"
	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/config"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/installation"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/program"
	"fleet_ledger/internal/release"
	"fleet_ledger/internal/schedule"
	"fleet_ledger/internal/scheduler"
	"fleet_ledger/internal/tasks"
	"fleet_ledger/internal/usage"
)

// Daemon owns the store and every service built on it. New wires
// everything without starting background work; Start adds the periodic
// schedule sweep.
type Daemon struct {
	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *scheduler.Scheduler
	db        *database.DB
	done      chan struct{}

	Engine        *schedule.Engine
	Ledger        *installation.Ledger
	Usage         *usage.Accumulator
	Airworthiness *airworthiness.Projector
	Releases      *release.Service
}

// New opens the database, seeds the fleet roster when the aircraft table is
// empty, loads maintenance programs and builds the services.
func New(cfg *config.Config) (*Daemon, error) {
	return newWithClock(cfg, clock.Real())
}

func newWithClock(cfg *config.Config, clk clock.Clock) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Initialize database
	db, err := database.New(cfg.DBPath, database.Options{BusyTimeout: cfg.BusyTimeout})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := seed(ctx, db, cfg); err != nil {
		cancel()
		db.Close()
		return nil, err
	}

	lm := locks.NewManager(cfg.LockTimeout)
	projector := airworthiness.NewProjector(db, clk, airworthiness.Options{
		CacheTTL:  cfg.Airworthiness.CacheTTL,
		CacheSize: cfg.Airworthiness.CacheSize,
	})
	policy := schedule.Policy{
		RequireInspectorRole: cfg.RII.RequireInspectorRole,
		InspectorRole:        cfg.RII.InspectorRole,
	}
	engine := schedule.NewEngine(db, lm, clk, policy, projector)

	// Create scheduler
	sched := scheduler.New(ctx, clk)
	sched.AddTask(tasks.NewScheduleSweep(db.Session().Schedules, engine, cfg.EvaluationInterval))

	return &Daemon{
		ctx:           ctx,
		cancel:        cancel,
		scheduler:     sched,
		db:            db,
		done:          make(chan struct{}),
		Engine:        engine,
		Ledger:        installation.NewLedger(db, lm, clk, engine),
		Usage:         usage.NewAccumulator(db, lm, clk, engine),
		Airworthiness: projector,
		Releases:      release.NewService(db, lm, clk, projector),
	}, nil
}

func seed(ctx context.Context, db *database.DB, cfg *config.Config) error {
	populated, err := db.Session().Aircraft.IsTablePopulated(ctx)
	if err != nil {
		return fmt.Errorf("failed to check aircraft table: %w", err)
	}
	if !populated && len(cfg.FleetCSV) > 0 {
		slog.Info("Aircraft table is empty, loading fleet roster", "csv_paths", cfg.FleetCSV)
		n, err := db.LoadFleetCSV(ctx, cfg.FleetCSV, 500)
		if err != nil {
			return fmt.Errorf("failed to load fleet roster: %w", err)
		}
		slog.Info("Fleet roster loaded", "aircraft", n)
	}

	if _, err := os.Stat(cfg.ProgramsDir); errors.Is(err, os.ErrNotExist) {
		slog.Warn("Program directory not found, skipping program load", "programs_dir", cfg.ProgramsDir)
		return nil
	}
	if _, err := program.LoadDir(ctx, db, cfg.ProgramsDir); err != nil {
		return fmt.Errorf("failed to load maintenance programs: %w", err)
	}
	return nil
}

func (d *Daemon) Start() error {
	slog.Info("Starting daemon")

	d.scheduler.Start()

	// Wait for context cancellation
	go func() {
		<-d.ctx.Done()
		close(d.done)
	}()

	slog.Info("Daemon started successfully")
	return nil
}

// Stop gracefully stops the daemon. It is also the way to release a Daemon
// that was never started.
func (d *Daemon) Stop() error {
	slog.Info("Stopping daemon")
	d.cancel()
	d.scheduler.Stop()

	if err := d.db.Close(); err != nil {
		slog.Error("Error closing database", "error", err)
		return err
	}

	slog.Info("Daemon stopped")
	return nil
}

// Done is closed once a started daemon has been stopped.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}
