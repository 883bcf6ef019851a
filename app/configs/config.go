package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Assistant AssistantConfig `json:"assistant"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Matcher   MatcherConfig   `json:"matcher"`
	Batch     BatchConfig     `json:"batch"`
	Reminder  ReminderConfig  `json:"reminder"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

type AssistantConfig struct {
	Name            string `json:"name"`
	DataDir         string `json:"data_dir"`
	DefaultTimezone string `json:"default_timezone"`
}

// OpenAIConfig holds the model settings. The API key comes from the
// OPENAI_API_KEY environment variable, never from this file.
type OpenAIConfig struct {
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
}

type MatcherConfig struct {
	Threshold       float64 `json:"threshold"`
	QuotedThreshold float64 `json:"quoted_threshold"`
	AmbiguityDelta  float64 `json:"ambiguity_delta"`
	TopK            int     `json:"top_k"`
}

type BatchConfig struct {
	MaxDeletes int `json:"max_deletes"`
}

type ReminderConfig struct {
	DefaultOffsetMin int `json:"default_offset_min"`
	SweepIntervalSec int `json:"sweep_interval_sec"`
}

type RateLimitConfig struct {
	MaxRequests int `json:"max_requests"`
	WindowSec   int `json:"window_sec"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Assistant: AssistantConfig{
			Name:            "Tasker",
			DataDir:         "data",
			DefaultTimezone: "Asia/Almaty",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Matcher: MatcherConfig{
			Threshold:       0.75,
			QuotedThreshold: 0.85,
			AmbiguityDelta:  0.05,
			TopK:            3,
		},
		Batch: BatchConfig{
			MaxDeletes: 2,
		},
		Reminder: ReminderConfig{
			DefaultOffsetMin: 15,
			SweepIntervalSec: 30,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 20,
			WindowSec:   60,
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		cfg.Assistant.Name = "Tasker"
	}
	if strings.TrimSpace(cfg.Assistant.DataDir) == "" {
		cfg.Assistant.DataDir = "data"
	}
	if strings.TrimSpace(cfg.Assistant.DefaultTimezone) == "" {
		cfg.Assistant.DefaultTimezone = "Asia/Almaty"
	}
	if strings.TrimSpace(cfg.OpenAI.Model) == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Matcher.Threshold <= 0 || cfg.Matcher.Threshold > 1 {
		cfg.Matcher.Threshold = 0.75
	}
	if cfg.Matcher.QuotedThreshold <= 0 || cfg.Matcher.QuotedThreshold > 1 {
		cfg.Matcher.QuotedThreshold = 0.85
	}
	if cfg.Matcher.QuotedThreshold < cfg.Matcher.Threshold {
		cfg.Matcher.QuotedThreshold = cfg.Matcher.Threshold
	}
	if cfg.Matcher.AmbiguityDelta <= 0 {
		cfg.Matcher.AmbiguityDelta = 0.05
	}
	if cfg.Matcher.TopK <= 0 {
		cfg.Matcher.TopK = 3
	}
	if cfg.Batch.MaxDeletes <= 0 {
		cfg.Batch.MaxDeletes = 2
	}
	if cfg.Reminder.DefaultOffsetMin < 0 {
		cfg.Reminder.DefaultOffsetMin = 15
	}
	if cfg.Reminder.SweepIntervalSec <= 0 {
		cfg.Reminder.SweepIntervalSec = 30
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = 20
	}
	if cfg.RateLimit.WindowSec <= 0 {
		cfg.RateLimit.WindowSec = 60
	}
}
