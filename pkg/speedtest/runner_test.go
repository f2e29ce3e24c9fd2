package speedtest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunConfigDefaults(t *testing.T) {
	t.Parallel()
	c := RunConfig{FullTestServers: 9}.withDefaults()
	if c.ServerCount != 5 {
		t.Fatalf("ServerCount = %d, want 5", c.ServerCount)
	}
	if c.FullTestServers != 5 {
		t.Fatalf("FullTestServers = %d, want clamp to 5", c.FullTestServers)
	}
	if c.MaxConnections != 4 || c.PingConcurrency != 4 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestAverageAndFastest(t *testing.T) {
	t.Parallel()
	results := []serverResult{
		{download: 100, upload: 10, ping: 20 * time.Millisecond},
		{download: 50, upload: 30, ping: 10 * time.Millisecond},
		{download: 90, upload: 20, ping: 10 * time.Millisecond},
	}

	avg := average(results)
	if avg.download != 80 || avg.upload != 20 {
		t.Fatalf("average = %+v", avg)
	}
	if got := avg.pingMs(); got < 13.33 || got > 13.34 {
		t.Fatalf("avg ping = %v ms", got)
	}

	best := fastest(results)
	if best.download != 90 {
		t.Fatalf("fastest picked download=%v, want 90 (tie on ping broken by download)", best.download)
	}
}

func TestMeasureCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(RunConfig{}).Measure(ctx)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	err := stageErr("ping", ErrAllPingsFailed)
	if err.Error() != "speedtest ping: all latency tests failed" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrAllPingsFailed) {
		t.Fatal("expected errors.Is to unwrap to ErrAllPingsFailed")
	}
}
