package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaultsFillsEmptyConfig(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Assistant.Name != "Tasker" {
		t.Fatalf("unexpected assistant name: %q", cfg.Assistant.Name)
	}
	if cfg.Assistant.DefaultTimezone != "Asia/Almaty" {
		t.Fatalf("unexpected default timezone: %q", cfg.Assistant.DefaultTimezone)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %q", cfg.OpenAI.Model)
	}
	if cfg.Matcher.Threshold != 0.75 || cfg.Matcher.QuotedThreshold != 0.85 {
		t.Fatalf("unexpected matcher thresholds: %+v", cfg.Matcher)
	}
	if cfg.Matcher.AmbiguityDelta != 0.05 || cfg.Matcher.TopK != 3 {
		t.Fatalf("unexpected matcher tuning: %+v", cfg.Matcher)
	}
	if cfg.Batch.MaxDeletes != 2 {
		t.Fatalf("unexpected max deletes: %d", cfg.Batch.MaxDeletes)
	}
	// Offset 0 means "remind at the deadline" and is a valid value, so
	// sanitization keeps it; the 15-minute default comes from
	// defaultConfig() when no file exists, not from here.
	if cfg.Reminder.DefaultOffsetMin != 0 || cfg.Reminder.SweepIntervalSec != 30 {
		t.Fatalf("unexpected reminder defaults: %+v", cfg.Reminder)
	}
	if cfg.RateLimit.MaxRequests != 20 || cfg.RateLimit.WindowSec != 60 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestApplyDefaultsSanitizesMatcherThresholds(t *testing.T) {
	cfg := Config{
		Matcher: MatcherConfig{
			Threshold:       1.5,
			QuotedThreshold: -1,
			AmbiguityDelta:  -0.1,
			TopK:            0,
		},
	}

	applyDefaults(&cfg)

	if cfg.Matcher.Threshold != 0.75 || cfg.Matcher.QuotedThreshold != 0.85 {
		t.Fatalf("out-of-range thresholds not reset: %+v", cfg.Matcher)
	}
	if cfg.Matcher.AmbiguityDelta != 0.05 || cfg.Matcher.TopK != 3 {
		t.Fatalf("out-of-range tuning not reset: %+v", cfg.Matcher)
	}
}

func TestApplyDefaultsKeepsQuotedThresholdAboveBase(t *testing.T) {
	cfg := Config{
		Matcher: MatcherConfig{
			Threshold:       0.9,
			QuotedThreshold: 0.8,
			AmbiguityDelta:  0.05,
			TopK:            3,
		},
	}

	applyDefaults(&cfg)

	if cfg.Matcher.QuotedThreshold < cfg.Matcher.Threshold {
		t.Fatalf("quoted threshold below base: %+v", cfg.Matcher)
	}
}

func TestApplyDefaultsAllowsZeroReminderOffset(t *testing.T) {
	cfg := Config{
		Reminder: ReminderConfig{DefaultOffsetMin: 0, SweepIntervalSec: 10},
	}

	applyDefaults(&cfg)

	// Offset 0 means "remind at the deadline" and must survive.
	if cfg.Reminder.DefaultOffsetMin != 0 {
		t.Fatalf("zero offset overwritten: %d", cfg.Reminder.DefaultOffsetMin)
	}
	if cfg.Reminder.SweepIntervalSec != 10 {
		t.Fatalf("explicit sweep interval overwritten: %d", cfg.Reminder.SweepIntervalSec)
	}
}

func TestManagerCreatesFileAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := mgr.Update(func(c *Config) {
		c.Assistant.DefaultTimezone = "Europe/Moscow"
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload manager: %v", err)
	}
	if got := reloaded.Get().Assistant.DefaultTimezone; got != "Europe/Moscow" {
		t.Fatalf("timezone after reload = %q", got)
	}
	if got := reloaded.Get().Matcher.TopK; got != 3 {
		t.Fatalf("defaults lost on reload: top_k = %d", got)
	}
}
