// Package monitor runs the measure → record → publish → wait loop.
package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"speedhook/internal/history"
	"speedhook/internal/publisher"
	"speedhook/internal/report"
	"speedhook/internal/webhook"
	logx "speedhook/pkg/logx"
	"speedhook/pkg/speedtest"
)

// Measurer performs one speedtest.
type Measurer interface {
	Measure(ctx context.Context) (speedtest.Sample, error)
}

// Publisher publishes the rendered report.
type Publisher interface {
	Publish(ctx context.Context, body report.Body) publisher.Outcome
	SetDestination(raw string)
}

// State is the step the driver is currently in.
type State int32

const (
	Measuring State = iota
	Recording
	Publishing
	Waiting
)

func (s State) String() string {
	switch s {
	case Measuring:
		return "measuring"
	case Recording:
		return "recording"
	case Publishing:
		return "publishing"
	case Waiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	Started  time.Time
	Sample   speedtest.Sample
	Err      error // measurement failure; nothing was recorded or published
	Recorded bool  // the sample entered the history buffer
	Outcome  publisher.Outcome
	Attempts int // publish attempts in this cycle (0 or 1)
	History  int // buffer length after the cycle
}

// Measured reports whether the measurement succeeded.
func (r CycleResult) Measured() bool { return r.Err == nil }

// Settings are the parts of the configuration the driver can apply while running.
type Settings struct {
	Destination string
	// Schedule is left unchanged when zero.
	Schedule Schedule
}

// Driver owns the history buffer and the publisher for the process lifetime.
// Everything runs on the goroutine that calls Run; Reconfigure is the only
// method safe to call from elsewhere.
type Driver struct {
	measurer  Measurer
	history   *history.Buffer
	renderer  report.Renderer
	publisher Publisher
	schedule  Schedule

	log     logx.Logger
	observe func(CycleResult)
	reconf  chan Settings

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	state atomic.Int32
}

// Option customizes a Driver.
type Option func(*Driver)

func WithLogger(log logx.Logger) Option { return func(d *Driver) { d.log = log } }

// WithSchedule sets when cycles start (default: every DefaultInterval).
func WithSchedule(s Schedule) Option { return func(d *Driver) { d.schedule = s } }

// WithObserver registers fn to be called after every cycle.
func WithObserver(fn func(CycleResult)) Option { return func(d *Driver) { d.observe = fn } }

func New(m Measurer, h *history.Buffer, r report.Renderer, p Publisher, opts ...Option) *Driver {
	d := &Driver{
		measurer:  m,
		history:   h,
		renderer:  r,
		publisher: p,
		schedule:  Every(DefaultInterval),
		log:       logx.Nop(),
		reconf:    make(chan Settings, 1),
		now:       time.Now,
		after:     time.After,
	}
	for _, o := range opts {
		o(d)
	}
	if d.renderer.Cadence == "" {
		d.renderer.Cadence = d.schedule.Cadence
	}
	if d.renderer.HistoryLength == 0 {
		d.renderer.HistoryLength = h.Cap()
	}
	return d
}

func (d *Driver) State() State { return State(d.state.Load()) }

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	d.log.Debug("state", logx.String("state", s.String()))
}

// Reconfigure queues settings for the loop to apply while it waits. Only the
// latest pending settings are kept.
func (d *Driver) Reconfigure(s Settings) {
	for {
		select {
		case d.reconf <- s:
			return
		default:
		}
		select {
		case <-d.reconf:
		default:
		}
	}
}

// Run loops until ctx is canceled. It returns nil on cancellation; collaborator
// failures never stop the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("monitor started",
		logx.String("schedule", d.schedule.Source),
		logx.Int("history_length", d.history.Cap()),
	)
	for {
		if ctx.Err() != nil {
			break
		}
		res := d.RunCycle(ctx)
		if d.observe != nil {
			d.observe(res)
		}
		if !d.wait(ctx) {
			break
		}
	}
	d.log.Info("monitor stopped")
	return nil
}

// RunCycle performs Measuring, Recording and Publishing once. Cancellation is
// honored between steps.
func (d *Driver) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{Started: d.now()}

	d.setState(Measuring)
	d.log.Info("starting speed test cycle")
	sample, err := d.measurer.Measure(ctx)
	if err != nil {
		res.Err = err
		res.History = d.history.Len()
		if ctx.Err() == nil {
			d.log.Warn("speed test failed; skipping this cycle", logx.Err(err))
		}
		return res
	}
	res.Sample = sample
	d.log.Info("speed test complete",
		logx.Float64("download_mbps", report.Round2(sample.DownloadMbps)),
		logx.Float64("upload_mbps", report.Round2(sample.UploadMbps)),
		logx.Float64("ping_ms", report.Round2(sample.PingMs)),
		logx.String("server", sample.ServerName),
		logx.Duration("took", sample.Duration),
	)
	if ctx.Err() != nil {
		res.History = d.history.Len()
		return res
	}

	d.setState(Recording)
	d.history.Record(sample)
	res.Recorded = true
	res.History = d.history.Len()
	if ctx.Err() != nil {
		return res
	}

	d.setState(Publishing)
	body := d.renderer.Render(sample, d.history.Snapshot())
	res.Outcome = d.publisher.Publish(ctx, body)
	res.Attempts = 1
	d.logOutcome(res.Outcome)
	return res
}

func (d *Driver) logOutcome(out publisher.Outcome) {
	switch out.Kind {
	case publisher.Created:
		d.log.Info("created status message", logx.String("message_id", out.MessageID))
	case publisher.Edited:
		d.log.Info("edited status message", logx.String("message_id", out.MessageID))
	case publisher.Deleted:
		d.log.Warn("status message not found (likely deleted); a new one is created next cycle",
			logx.String("message_id", out.MessageID))
	case publisher.Unconfigured:
		d.log.Warn("webhook url is not configured; set webhook.url to publish reports")
	case publisher.Failed:
		fields := []logx.Field{logx.Err(out.Err)}
		if out.MessageID != "" {
			fields = append(fields, logx.String("message_id", out.MessageID))
		}
		var se *webhook.StatusError
		if errors.As(out.Err, &se) {
			fields = append(fields, logx.Int("status", se.Code), logx.String("body", se.Body))
		}
		d.log.Error("publishing status message failed", fields...)
	}
}

// wait blocks until the next scheduled cycle. It returns false when ctx ends.
func (d *Driver) wait(ctx context.Context) bool {
	d.setState(Waiting)
	timer := d.arm()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case s := <-d.reconf:
			if d.apply(s) {
				timer = d.arm()
			}
		}
	}
}

func (d *Driver) arm() <-chan time.Time {
	now := d.now()
	next := d.schedule.Next(now)
	if !next.After(now) {
		d.log.Warn("schedule has no future activation; using default interval",
			logx.String("schedule", d.schedule.Source),
			logx.Duration("interval", DefaultInterval),
		)
		next = now.Add(DefaultInterval)
	}
	d.log.Info("waiting for next cycle", logx.Time("next_run", next), logx.Duration("in", next.Sub(now)))
	return d.after(next.Sub(now))
}

// apply installs s and reports whether the schedule changed.
func (d *Driver) apply(s Settings) bool {
	d.publisher.SetDestination(s.Destination)
	if s.Schedule.IsZero() || s.Schedule.Source == d.schedule.Source {
		return false
	}
	d.log.Info("schedule changed", logx.String("from", d.schedule.Source), logx.String("to", s.Schedule.Source))
	d.schedule = s.Schedule
	d.renderer.Cadence = s.Schedule.Cadence
	return true
}
