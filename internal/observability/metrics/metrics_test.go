package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"speedhook/internal/monitor"
	"speedhook/internal/publisher"
	logx "speedhook/pkg/logx"
	"speedhook/pkg/speedtest"
)

func TestCollectorObserve(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.Observe(monitor.CycleResult{
		Sample:   speedtest.Sample{Timestamp: ts, DownloadMbps: 95.5, UploadMbps: 20.25, PingMs: 12, Duration: 30 * time.Second},
		Recorded: true,
		Outcome:  publisher.Outcome{Kind: publisher.Created, MessageID: "1"},
		Attempts: 1,
		History:  1,
	})
	c.Observe(monitor.CycleResult{Err: errors.New("no servers"), History: 1})
	c.Observe(monitor.CycleResult{Err: context.Canceled, History: 1})
	// Measured, then shut down before the sample was kept.
	c.Observe(monitor.CycleResult{Sample: speedtest.Sample{DownloadMbps: 1}, History: 1})

	if got := testutil.ToFloat64(c.download); got != 95.5 {
		t.Fatalf("download=%v", got)
	}
	if got := testutil.ToFloat64(c.lastSuccess); got != float64(ts.Unix()) {
		t.Fatalf("last success=%v", got)
	}
	for result, want := range map[string]float64{"measured": 1, "failed": 1, "canceled": 2} {
		if got := testutil.ToFloat64(c.cycles.WithLabelValues(result)); got != want {
			t.Fatalf("cycles{%s}=%v", result, got)
		}
	}
	if got := testutil.ToFloat64(c.publishes.WithLabelValues("created")); got != 1 {
		t.Fatalf("publish{created}=%v", got)
	}
	if got := testutil.CollectAndCount(c.publishes); got != 1 {
		t.Fatalf("publish series=%d", got)
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(monitor.CycleResult{History: 2})
	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, c.Registry(), logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	var addr string
	for addr == "" {
		select {
		case <-ctx.Done():
			t.Fatalf("server did not start")
		case <-time.After(10 * time.Millisecond):
			addr = s.Addr()
		}
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "speedhook_history_samples 2") {
		t.Fatalf("missing history gauge in:\n%s", body)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("addr should be cleared after stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:9469": true,
		"localhost:80":   true,
		"[::1]:9469":     true,
		":9469":          false,
		"0.0.0.0:9469":   false,
		"bogus":          false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", in, got, want)
		}
	}
}
