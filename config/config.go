/*
Package config loads the server configuration.

SOURCES (later wins):
  1. envDefault tags below
  2. a .env file in the working directory, when present (godotenv)
  3. LEAVE_ENGINE_* environment variables (caarlos0/env)
  4. command-line flags

SEE ALSO:
  - cmd/server/main.go: Consumes Config
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/generic"
)

// Config holds server configuration.
type Config struct {
	Port           int      `env:"LEAVE_ENGINE_PORT"            envDefault:"8080"`
	DBPath         string   `env:"LEAVE_ENGINE_DB"              envDefault:"leave.db"`
	AttendanceDB   string   `env:"LEAVE_ENGINE_ATTENDANCE_DB"   envDefault:"attendance.db"`
	LogLevel       string   `env:"LEAVE_ENGINE_LOG_LEVEL"       envDefault:"info"`
	LogFormat      string   `env:"LEAVE_ENGINE_LOG_FORMAT"      envDefault:"json"`
	AccessLog      bool     `env:"LEAVE_ENGINE_ACCESS_LOG"      envDefault:"true"`
	AllowedOrigins []string `env:"LEAVE_ENGINE_ALLOWED_ORIGINS" envSeparator:","`

	CallTimeout     time.Duration `env:"LEAVE_ENGINE_CALL_TIMEOUT"          envDefault:"3s"`
	CallMaxAttempts int           `env:"LEAVE_ENGINE_CALL_MAX_ATTEMPTS"     envDefault:"5"`
	RetryInitial    time.Duration `env:"LEAVE_ENGINE_RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	RetryMax        time.Duration `env:"LEAVE_ENGINE_RETRY_MAX_INTERVAL"    envDefault:"5s"`

	ReconcileInterval time.Duration `env:"LEAVE_ENGINE_RECONCILE_INTERVAL" envDefault:"1m"`

	SchedulerEnabled bool          `env:"LEAVE_ENGINE_SCHEDULER_ENABLED"   envDefault:"true"`
	Timezone         string        `env:"LEAVE_ENGINE_TIMEZONE"            envDefault:"UTC"`
	AnniversarySpec  string        `env:"LEAVE_ENGINE_ANNIVERSARY_CRON"    envDefault:"0 2 * * *"`
	MonthlySpec      string        `env:"LEAVE_ENGINE_MONTHLY_CRON"        envDefault:"0 3 1 * *"`
	AccrualTimeout   time.Duration `env:"LEAVE_ENGINE_ACCRUAL_RUN_TIMEOUT" envDefault:"30m"`

	AnniversaryDays  string `env:"LEAVE_ENGINE_ANNIVERSARY_DAYS"  envDefault:"15"`
	MonthlyDays      string `env:"LEAVE_ENGINE_MONTHLY_DAYS"      envDefault:"1"`
	MonthlyThreshold string `env:"LEAVE_ENGINE_MONTHLY_THRESHOLD" envDefault:"15"`
}

// Load reads the .env file (if any) and the environment, then applies
// flags from args.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&cfg.AttendanceDB, "attendance-db", cfg.AttendanceDB, "SQLite path of the work-status projection")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or console")
	fs.BoolVar(&cfg.SchedulerEnabled, "scheduler", cfg.SchedulerEnabled, "run the accrual cron timer")
	fs.StringVar(&cfg.Timezone, "tz", cfg.Timezone, "time zone used to decide today's date for accruals")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "how often stuck workflows are re-driven")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if strings.TrimSpace(c.AttendanceDB) == "" {
		errs = append(errs, errors.New("attendance db path is required"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	for name, d := range map[string]time.Duration{
		"call timeout":           c.CallTimeout,
		"retry initial interval": c.RetryInitial,
		"retry max interval":     c.RetryMax,
		"reconcile interval":     c.ReconcileInterval,
		"accrual run timeout":    c.AccrualTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.CallMaxAttempts <= 0 {
		errs = append(errs, errors.New("call max attempts must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("unknown time zone %q", c.Timezone))
	}
	for name, spec := range map[string]string{"anniversary": c.AnniversarySpec, "monthly": c.MonthlySpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s cron spec: %w", name, err))
		}
	}
	if _, err := c.AccrualPolicy(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CallPolicy is the timeout and retry budget of cross-service calls.
func (c Config) CallPolicy() generic.CallPolicy {
	return generic.CallPolicy{
		Timeout:         c.CallTimeout,
		MaxAttempts:     c.CallMaxAttempts,
		InitialInterval: c.RetryInitial,
		MaxInterval:     c.RetryMax,
	}
}

// AccrualPolicy parses the grant amounts.
func (c Config) AccrualPolicy() (accrual.Policy, error) {
	var (
		p   accrual.Policy
		err error
	)
	if p.AnniversaryDays, err = generic.ParseAmount(c.AnniversaryDays); err != nil {
		return p, fmt.Errorf("anniversary days: %w", err)
	}
	if p.MonthlyDays, err = generic.ParseAmount(c.MonthlyDays); err != nil {
		return p, fmt.Errorf("monthly days: %w", err)
	}
	if p.MonthlyThreshold, err = generic.ParseAmount(c.MonthlyThreshold); err != nil {
		return p, fmt.Errorf("monthly threshold: %w", err)
	}
	return p, p.Validate()
}

// TimerConfig is the accrual cron configuration.
func (c Config) TimerConfig() (accrual.TimerConfig, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return accrual.TimerConfig{}, fmt.Errorf("load time zone: %w", err)
	}
	return accrual.TimerConfig{
		AnniversarySpec: c.AnniversarySpec,
		MonthlySpec:     c.MonthlySpec,
		Location:        loc,
		RunTimeout:      c.AccrualTimeout,
	}, nil
}
