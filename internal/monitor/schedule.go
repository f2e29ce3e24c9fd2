package monitor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"speedhook/internal/report"
)

// DefaultInterval is the wait between cycles when nothing else is configured.
const DefaultInterval = time.Hour

// Schedule decides when the next cycle starts.
type Schedule struct {
	cron.Schedule
	// Cadence describes the schedule for the report footer.
	Cadence string
	// Source is the raw schedule string, kept for logging and change detection.
	Source string
}

// IsZero reports whether s was never set.
func (s Schedule) IsZero() bool { return s.Schedule == nil }

// interval waits exactly d after the previous cycle ends.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }

// Every returns a fixed-interval schedule (d <= 0 falls back to DefaultInterval).
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = DefaultInterval
	}
	return Schedule{Schedule: interval(d), Cadence: report.DescribeInterval(d), Source: d.String()}
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string.
//
// Supported forms:
//   - Cron (5 fields or descriptor): "0 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// A "cron:" prefix forces cron parsing, "interval:" or "every:" forces an interval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}

	sc, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf(
			"invalid schedule %q (use cron like '0 * * * *', HH:MM like '01:00', or duration like '55m')", raw)
	}
	return sc, nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	cs, err := cron.ParseStandard(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	// cron.Next returns the zero time when nothing matches within five years.
	if cs.Next(time.Now()).IsZero() {
		return Schedule{}, fmt.Errorf("cron %q never fires", expr)
	}
	return Schedule{Schedule: cs, Cadence: "on schedule " + expr, Source: expr}, nil
}

func parseInterval(v string) (Schedule, error) {
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	sc := Every(d)
	sc.Source = v
	return sc, nil
}
