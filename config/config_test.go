package config_test

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
)

func load(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	return config.Load(flag.NewFlagSet("test", flag.ContinueOnError), args)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "leave.db", cfg.DBPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, generic.DefaultCallPolicy(), cfg.CallPolicy())

	policy, err := cfg.AccrualPolicy()
	require.NoError(t, err)
	assert.True(t, policy.AnniversaryDays.Equal(generic.NewAmountFromInt(15)))
	assert.True(t, policy.MonthlyDays.Equal(generic.OneDay()))

	timer, err := cfg.TimerConfig()
	require.NoError(t, err)
	assert.Equal(t, "0 3 1 * *", timer.MonthlySpec)
	assert.Equal(t, time.UTC, timer.Location)
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Setenv("LEAVE_ENGINE_PORT", "9090")
	t.Setenv("LEAVE_ENGINE_DB", ":memory:")
	t.Setenv("LEAVE_ENGINE_CALL_MAX_ATTEMPTS", "2")
	t.Setenv("LEAVE_ENGINE_MONTHLY_DAYS", "0.5")
	t.Setenv("LEAVE_ENGINE_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := load(t, "-port", "7070", "-log-format", "console")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port, "flags win over env")
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 2, cfg.CallPolicy().MaxAttempts)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)

	policy, err := cfg.AccrualPolicy()
	require.NoError(t, err)
	assert.True(t, policy.MonthlyDays.Equal(generic.HalfDay()))
}

func TestLoad_RejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"log format", "LEAVE_ENGINE_LOG_FORMAT", "xml"},
		{"log level", "LEAVE_ENGINE_LOG_LEVEL", "loud"},
		{"zero attempts", "LEAVE_ENGINE_CALL_MAX_ATTEMPTS", "0"},
		{"negative interval", "LEAVE_ENGINE_RECONCILE_INTERVAL", "-1s"},
		{"time zone", "LEAVE_ENGINE_TIMEZONE", "Nowhere/Special"},
		{"cron spec", "LEAVE_ENGINE_MONTHLY_CRON", "monthly please"},
		{"not half day", "LEAVE_ENGINE_ANNIVERSARY_DAYS", "1.25"},
		{"not a number", "LEAVE_ENGINE_MONTHLY_THRESHOLD", "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := load(t)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedEnv(t *testing.T) {
	t.Setenv("LEAVE_ENGINE_PORT", "eighty")
	_, err := load(t)
	assert.ErrorContains(t, err, "parse env")
}
