package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDefault(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.Webhook.URL != UnconfiguredURL {
		t.Fatalf("url=%q", c.Webhook.URL)
	}
	if c.Monitor.HistoryLength != 5 || c.Monitor.CycleIntervalSeconds != 3600 {
		t.Fatalf("monitor=%+v", c.Monitor)
	}
	if c.CycleInterval() != time.Hour {
		t.Fatalf("interval=%s", c.CycleInterval())
	}
	if c.Speedtest.SavingMode == nil || !*c.Speedtest.SavingMode {
		t.Fatalf("saving mode should default to true")
	}
	if c.Webhook.RequestTimeout() != DefaultWebhookTimeout || c.Speedtest.RunTimeout() != DefaultSpeedtestTimeout {
		t.Fatalf("timeouts=%s/%s", c.Webhook.RequestTimeout(), c.Speedtest.RunTimeout())
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	raw := `
webhook:
  url: "https://discord.com/api/webhooks/1/abc"
  timeout: 5s
monitor:
  history_length: 3
  cycle_interval_seconds: 60
logging:
  level: debug
metrics:
  enabled: true
`
	c, err := Decode("speedhook.yaml", []byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Monitor.HistoryLength != 3 || c.CycleInterval() != time.Minute {
		t.Fatalf("monitor=%+v", c.Monitor)
	}
	if c.Webhook.RequestTimeout() != 5*time.Second {
		t.Fatalf("timeout=%s", c.Webhook.RequestTimeout())
	}
	if !c.Logging.Console {
		t.Fatalf("console should stay on when omitted")
	}
	if c.Metrics.Addr != DefaultMetricsAddr || c.Metrics.Path != DefaultMetricsPath {
		t.Fatalf("metrics=%+v", c.Metrics)
	}
}

func TestDecodeZeroTakesDefault(t *testing.T) {
	t.Parallel()

	c, err := Decode("c.json", []byte(`{"monitor":{"history_length":0,"cycle_interval_seconds":0}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Monitor.HistoryLength != DefaultHistoryLength || c.Monitor.CycleIntervalSeconds != DefaultCycleIntervalSeconds {
		t.Fatalf("monitor=%+v", c.Monitor)
	}
	if c.Webhook.URL != UnconfiguredURL {
		t.Fatalf("url=%q", c.Webhook.URL)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		raw  string
		want string
	}{
		{"negative history", "c.json", `{"monitor":{"history_length":-1}}`, "history_length"},
		{"negative interval", "c.json", `{"monitor":{"cycle_interval_seconds":-5}}`, "cycle_interval_seconds"},
		{"unknown field", "c.json", `{"discord":{}}`, "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad duration", "c.yaml", "webhook:\n  timeout: soon\n", "webhook.timeout"},
		{"bad level", "c.yaml", "logging:\n  level: loud\n", "logging.level"},
		{"bad metrics path", "c.json", `{"metrics":{"path":"metrics"}}`, "metrics.path"},
		{"negative servers", "c.json", `{"speedtest":{"server_count":-2}}`, "speedtest.server_count"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.file, []byte(tc.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestManagerLoadUsesValidator(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "speedhook.yaml", "monitor:\n  schedule: nonsense\n")
	m := NewManager(p)
	want := errors.New("bad schedule")
	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Monitor.Schedule == "nonsense" {
			return want
		}
		return nil
	})
	if _, err := m.Load(context.Background()); !errors.Is(err, want) {
		t.Fatalf("err=%v", err)
	}
	if m.Get() != nil {
		t.Fatalf("rejected config must not be committed")
	}
}

func TestManagerWatchPublishes(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "speedhook.yaml", "monitor:\n  history_length: 2\n")
	m := NewManager(p)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and the change is seen.
		_ = os.WriteFile(p, []byte("monitor:\n  history_length: 4\n"), 0o600)
		select {
		case c := <-ch:
			if c.Monitor.HistoryLength != 4 {
				t.Fatalf("history_length=%d", c.Monitor.HistoryLength)
			}
			if m.Get() != c {
				t.Fatalf("published config not committed")
			}
			cancel()
			<-done
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.yaml")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("expected newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	old := Default()
	next := Default()
	next.Webhook.URL = "https://discord.com/api/webhooks/1/secret"
	next.Monitor.HistoryLength = 10
	next.Logging.Level = "debug"

	ch := Summarize(old, next)
	if strings.Join(ch.Sections, ",") != "webhook,monitor,logging" {
		t.Fatalf("sections=%v", ch.Sections)
	}
	if strings.Join(ch.RestartRequired, ",") != "monitor.history_length" {
		t.Fatalf("restart=%v", ch.RestartRequired)
	}
	if !Summarize(old, Default()).Empty() {
		t.Fatalf("identical configs should produce no change")
	}
	if got := redactURL(next.Webhook.URL); got != "discord.com" {
		t.Fatalf("redactURL=%q", got)
	}
}
