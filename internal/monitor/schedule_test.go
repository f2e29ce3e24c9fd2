package monitor

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 5, 1, 10, 20, 0, 0, time.Local)
	tests := []struct {
		name    string
		raw     string
		next    time.Time
		cadence string
	}{
		{name: "duration", raw: "10m", next: base.Add(10 * time.Minute), cadence: "every 10 minutes"},
		{name: "prefixed interval", raw: "interval:45s", next: base.Add(45 * time.Second), cadence: "every 45 seconds"},
		{name: "every prefix", raw: "every:2h", next: base.Add(2 * time.Hour), cadence: "every 2 hours"},
		{name: "hhmm", raw: "01:00", next: base.Add(time.Hour), cadence: "every hour"},
		{name: "descriptor", raw: "@hourly", next: time.Date(2024, 5, 1, 11, 0, 0, 0, time.Local), cadence: "on schedule @hourly"},
		{name: "cron", raw: "30 * * * *", next: time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local), cadence: "on schedule 30 * * * *"},
		{name: "prefixed cron", raw: "cron:0 12 * * *", next: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local), cadence: "on schedule 0 12 * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sc, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got := sc.Next(base); !got.Equal(tt.next) {
				t.Fatalf("Next = %v, want %v", got, tt.next)
			}
			if sc.Cadence != tt.cadence {
				t.Fatalf("Cadence = %q, want %q", sc.Cadence, tt.cadence)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "01:75", "cron:", "@sometimes", "61 * * * *", "0 0 30 2 *", "cron:0 0 31 4 *"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestEveryDefaults(t *testing.T) {
	t.Parallel()
	sc := Every(0)
	now := time.Now()
	if got := sc.Next(now).Sub(now); got != DefaultInterval {
		t.Fatalf("wait = %v, want %v", got, DefaultInterval)
	}
	if sc.Cadence != "every hour" {
		t.Fatalf("Cadence = %q", sc.Cadence)
	}
	if sc.IsZero() || !(Schedule{}).IsZero() {
		t.Fatal("IsZero mismatch")
	}
}
