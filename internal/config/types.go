package config

import (
	"fmt"
	"strings"
	"time"

	logx "speedhook/pkg/logx"
)

const (
	DefaultHistoryLength        = 5
	DefaultCycleIntervalSeconds = 3600
	DefaultWebhookTimeout       = 15 * time.Second
	DefaultSpeedtestTimeout     = 2 * time.Minute
	DefaultMetricsAddr          = "127.0.0.1:9469"
	DefaultMetricsPath          = "/metrics"

	// UnconfiguredURL is the placeholder webhook URL in a fresh config.
	UnconfiguredURL = "unconfigured"
)

type Config struct {
	Webhook   WebhookConfig   `json:"webhook"`
	Monitor   MonitorConfig   `json:"monitor"`
	Speedtest SpeedtestConfig `json:"speedtest"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// WebhookConfig describes the single publish destination.
//
// URL is a secret (it embeds the webhook token); never log it.
type WebhookConfig struct {
	URL       string `json:"url"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	// Timeout is a Go duration string bounding one request (default "15s").
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type MonitorConfig struct {
	HistoryLength        int `json:"history_length"`
	CycleIntervalSeconds int `json:"cycle_interval_seconds"`
	// Schedule overrides CycleIntervalSeconds when set: a cron expression
	// ("@hourly", "0 * * * *"), a Go duration or HH:MM.
	Schedule string `json:"schedule,omitempty"`
}

type SpeedtestConfig struct {
	ServerCount     int `json:"server_count,omitempty"`
	FullTestServers int `json:"full_test_servers,omitempty"`
	// SavingMode defaults to true when omitted.
	SavingMode      *bool `json:"saving_mode,omitempty"`
	MaxConnections  int   `json:"max_connections,omitempty"`
	PingConcurrency int   `json:"ping_concurrency,omitempty"`
	// Timeout is a Go duration string bounding one measurement (default "2m").
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MetricsConfig controls the optional Prometheus endpoint.
// Prefer binding to localhost.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	c := &Config{
		Webhook: WebhookConfig{URL: UnconfiguredURL},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Webhook.URL) == "" {
		c.Webhook.URL = UnconfiguredURL
	}
	if c.Monitor.HistoryLength == 0 {
		c.Monitor.HistoryLength = DefaultHistoryLength
	}
	if c.Monitor.CycleIntervalSeconds == 0 {
		c.Monitor.CycleIntervalSeconds = DefaultCycleIntervalSeconds
	}
	if c.Speedtest.SavingMode == nil {
		on := true
		c.Speedtest.SavingMode = &on
	}
	if strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks field ranges. Schedule syntax is checked by the caller's
// validator since it depends on the scheduler.
func (c *Config) Validate() error {
	if c.Monitor.HistoryLength < 1 {
		return fmt.Errorf("monitor.history_length must be > 0 (got %d)", c.Monitor.HistoryLength)
	}
	if c.Monitor.CycleIntervalSeconds < 1 {
		return fmt.Errorf("monitor.cycle_interval_seconds must be > 0 (got %d)", c.Monitor.CycleIntervalSeconds)
	}
	if c.Webhook.RatePerSec < 0 {
		return fmt.Errorf("webhook.rate_per_sec must be >= 0")
	}
	if _, err := parseDuration("webhook.timeout", c.Webhook.Timeout, DefaultWebhookTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("speedtest.timeout", c.Speedtest.Timeout, DefaultSpeedtestTimeout); err != nil {
		return err
	}
	for path, v := range map[string]int{
		"speedtest.server_count":      c.Speedtest.ServerCount,
		"speedtest.full_test_servers": c.Speedtest.FullTestServers,
		"speedtest.max_connections":   c.Speedtest.MaxConnections,
		"speedtest.ping_concurrency":  c.Speedtest.PingConcurrency,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", path)
		}
	}
	if !logx.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if p := strings.TrimSpace(c.Metrics.Path); !strings.HasPrefix(p, "/") {
		return fmt.Errorf("metrics.path must start with '/' (got %q)", p)
	}
	return nil
}

// CycleInterval is the fixed wait between cycles.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Monitor.CycleIntervalSeconds) * time.Second
}

func (w WebhookConfig) RequestTimeout() time.Duration {
	d, _ := parseDuration("webhook.timeout", w.Timeout, DefaultWebhookTimeout)
	return d
}

func (s SpeedtestConfig) RunTimeout() time.Duration {
	d, _ := parseDuration("speedtest.timeout", s.Timeout, DefaultSpeedtestTimeout)
	return d
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// LogConfig maps the logging section onto the logger's configuration.
func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
