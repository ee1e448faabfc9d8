/*
main.go - Application entry point

PURPOSE:
  Starts the leave engine: HTTP API, accrual cron timer and the background
  reconciler. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, LEAVE_ENGINE_* variables, flags)
  2. Build the zap logger
  3. Open the main SQLite store and the work-status store
  4. Wire ledger, projector, approval machine, orchestrator, scheduler
  5. Run HTTP server, timer and reconciler in one errgroup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the cron timer (waits for a running accrual) and the reconciler
  4. Close database connections

EXAMPLES:
  # Run with file databases
  ./server -db=./data/leave.db -attendance-db=./data/attendance.db

  # Run fully in memory with readable logs
  ./server -db=":memory:" -attendance-db=":memory:" -log-format=console

SEE ALSO:
  - config/config.go: Every setting and its variable
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/gormstore"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/workflow"
	"github.com/warp/leave-engine/workstatus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	attendance, err := gormstore.Open(cfg.AttendanceDB)
	if err != nil {
		return fmt.Errorf("initialize attendance database: %w", err)
	}
	defer attendance.Close()

	policy, err := cfg.AccrualPolicy()
	if err != nil {
		return err
	}
	timerCfg, err := cfg.TimerConfig()
	if err != nil {
		return err
	}
	calls := cfg.CallPolicy()
	now := generic.UTCNow

	ledger := balance.NewLedger(store.Ledger(), now, uuid.NewString, logger)
	projector := workstatus.NewProjector(attendance, now, logger)
	approvals := approval.NewMachine(store.Approvals(), now, uuid.NewString, logger)
	orchestrator := workflow.NewOrchestrator(workflow.Deps{
		Requests:  store.Requests(),
		Approvals: approvals,
		Sagas:     store.Sagas(),
		Ledger:    ledger,
		Projector: projector,
	}, calls, now, uuid.NewString, logger)

	scheduler := accrual.NewScheduler(accrual.Deps{
		Employees:  store.Employees(),
		Attendance: projector,
		Grants:     ledger,
		Failures:   store.AccrualFailures(),
	}, policy, calls, now, logger)
	timer, err := accrual.NewTimer(scheduler, timerCfg, now, logger)
	if err != nil {
		return fmt.Errorf("build accrual timer: %w", err)
	}
	reconciler := workflow.NewReconciler(orchestrator, cfg.ReconcileInterval, logger)

	handler := api.NewHandler(api.Deps{
		Orchestrator: orchestrator,
		Approvals:    approvals,
		Ledger:       ledger,
		Projector:    projector,
		Employees:    store.Employees(),
		Failures:     store.AccrualFailures(),
		Accruals:     timer,
		Checks: map[string]api.HealthCheck{
			"leave_db":      store,
			"attendance_db": attendance,
		},
	}, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      cfg.AccessLog,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.SchedulerEnabled {
		g.Go(func() error {
			timer.Start()
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return timer.Stop(stopCtx)
		})
	} else {
		logger.Info("accrual timer disabled; use the admin endpoint to run rules")
	}

	g.Go(func() error {
		reconciler.Start()
		<-gctx.Done()
		reconciler.Stop()
		return nil
	})

	return g.Wait()
}
