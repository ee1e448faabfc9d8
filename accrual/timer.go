package accrual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// TimerConfig holds the fixed calendar triggers.
type TimerConfig struct {
	AnniversarySpec string // default "0 2 * * *"
	MonthlySpec     string // default "0 3 1 * *"
	Location        *time.Location
	RunTimeout      time.Duration
}

func DefaultTimerConfig() TimerConfig {
	return TimerConfig{
		AnniversarySpec: "0 2 * * *",
		MonthlySpec:     "0 3 1 * *",
		Location:        time.UTC,
		RunTimeout:      30 * time.Minute,
	}
}

// Timer fires the accrual rules on cron schedules. It owns no business
// logic: every trigger is a call to Scheduler.Run with today's date in the
// configured location.
type Timer struct {
	scheduler *Scheduler
	cron      *cron.Cron
	cfg       TimerConfig
	now       generic.NowFunc
	logger    *zap.Logger

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
}

// NewTimer parses the cron specs in cfg. It fails on an invalid spec or
// location.
func NewTimer(scheduler *Scheduler, cfg TimerConfig, now generic.NowFunc, logger *zap.Logger) (*Timer, error) {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("accrual.timer")
	defaults := DefaultTimerConfig()
	if cfg.AnniversarySpec == "" {
		cfg.AnniversarySpec = defaults.AnniversarySpec
	}
	if cfg.MonthlySpec == "" {
		cfg.MonthlySpec = defaults.MonthlySpec
	}
	if cfg.Location == nil {
		cfg.Location = defaults.Location
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaults.RunTimeout
	}
	if now == nil {
		now = generic.UTCNow
	}

	base, cancel := context.WithCancel(context.Background())
	t := &Timer{
		scheduler: scheduler,
		cron:      cron.New(cron.WithLocation(cfg.Location)),
		cfg:       cfg,
		now:       now,
		logger:    l,
		base:      base,
		cancel:    cancel,
	}

	if _, err := t.cron.AddFunc(cfg.AnniversarySpec, func() { t.fire(RuleAnniversary) }); err != nil {
		cancel()
		return nil, fmt.Errorf("anniversary schedule %q: %w", cfg.AnniversarySpec, err)
	}
	if _, err := t.cron.AddFunc(cfg.MonthlySpec, func() { t.fire(RuleMonthlyAttendance) }); err != nil {
		cancel()
		return nil, fmt.Errorf("monthly schedule %q: %w", cfg.MonthlySpec, err)
	}
	return t, nil
}

// Start begins firing triggers in the background.
func (t *Timer) Start() {
	t.cron.Start()
	t.logger.Info("accrual timer started",
		zap.String("anniversary_spec", t.cfg.AnniversarySpec),
		zap.String("monthly_spec", t.cfg.MonthlySpec),
		zap.String("location", t.cfg.Location.String()),
	)
}

// Stop prevents new triggers and waits for a running one, or for ctx.
func (t *Timer) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	select {
	case <-done.Done():
		t.cancel()
		t.logger.Info("accrual timer stopped")
		return nil
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}
}

// Today is the current calendar date in the timer's location.
func (t *Timer) Today() generic.Date {
	return generic.DateOf(t.now().In(t.cfg.Location))
}

// RunNow runs a rule immediately for the given date. A zero date means today.
func (t *Timer) RunNow(ctx context.Context, rule Rule, date generic.Date) (Report, error) {
	if date.IsZero() {
		date = t.Today()
	}
	t.logger.Info("accrual run triggered manually",
		zap.String("rule", string(rule)),
		zap.Stringer("date", date),
	)
	return t.scheduler.Run(ctx, rule, date)
}

func (t *Timer) fire(rule Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.base, t.cfg.RunTimeout)
	defer cancel()

	today := t.Today()
	if _, err := t.scheduler.Run(ctx, rule, today); err != nil {
		t.logger.Error("scheduled accrual run failed",
			zap.String("rule", string(rule)),
			zap.Stringer("date", today),
			zap.Error(err),
		)
	}
}
