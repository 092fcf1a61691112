package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if got := cfg.Database.NotifyFunction; got != "pg_notify" {
		t.Fatalf("notify function default: got %q, want pg_notify", got)
	}
	if cfg.Database.Host == "" || cfg.Database.Port == "" {
		t.Fatal("database defaults missing")
	}
	// Load is memoized; a second call must hand back the same config.
	if Load() != cfg {
		t.Fatal("Load returned a different instance on the second call")
	}
}

func TestNotifyFunctionIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"pg_notify", true},
		{"my_wrapper_fn", true},
		{"_private", true},
		{"pg_notify; DROP TABLE cron_job", false},
		{"pg-notify", false},
		{"", false},
		{"1notify", false},
	}
	for _, tt := range tests {
		if got := identRe.MatchString(tt.name); got != tt.valid {
			t.Errorf("identRe.MatchString(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestCronConfigBudgets(t *testing.T) {
	var c CronConfig
	if got := c.SoftLimit(); got != 15*time.Minute {
		t.Fatalf("default pass budget: got %s, want 15m", got)
	}
	if got := c.JobLimit(); got != 0 {
		t.Fatalf("default job budget: got %s, want 0 (unbounded)", got)
	}

	c = CronConfig{LimitTimeReal: 60, LimitTimeRealCron: 30, LimitTimeSoftCron: 10}
	if got := c.SoftLimit(); got != time.Minute {
		t.Fatalf("pass budget: got %s, want 1m", got)
	}
	if got := c.JobLimit(); got != 30*time.Second {
		t.Fatalf("job budget: got %s, want 30s", got)
	}
	if got := c.IterationLimit(); got != 10*time.Second {
		t.Fatalf("iteration budget: got %s, want 10s", got)
	}
}
