package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"speedhook/internal/config"
	"speedhook/internal/history"
	"speedhook/internal/monitor"
	"speedhook/internal/observability/metrics"
	"speedhook/internal/publisher"
	"speedhook/internal/report"
	rtsup "speedhook/internal/runtime/supervisor"
	"speedhook/internal/webhook"
	logx "speedhook/pkg/logx"
	"speedhook/pkg/speedtest"
	"speedhook/pkg/systemd"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopOnce       StopReason = "once_done"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	driver    *monitor.Driver
	collector *metrics.Collector
	metrics   *metrics.Server
	notify    *systemd.Notifier

	version string
}

type Option func(*options)

type options struct {
	measurer  monitor.Measurer
	transport publisher.Transport
	version   string
}

// WithMeasurer replaces the speedtest.net runner.
func WithMeasurer(m monitor.Measurer) Option { return func(o *options) { o.measurer = m } }

// WithTransport replaces the webhook HTTP client.
func WithTransport(t publisher.Transport) Option { return func(o *options) { o.transport = t } }

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// NewApp loads the config file and wires every component. Config errors are
// fatal here; later reload errors only keep the previous config.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(cfg.Logging.LogConfig())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sched, err := scheduleFor(cfg)
	if err != nil {
		return nil, err
	}

	if o.measurer == nil {
		o.measurer = speedtest.NewRunner(speedtest.RunConfig{
			ServerCount:     cfg.Speedtest.ServerCount,
			FullTestServers: cfg.Speedtest.FullTestServers,
			SavingMode:      *cfg.Speedtest.SavingMode,
			MaxConnections:  cfg.Speedtest.MaxConnections,
			PingConcurrency: cfg.Speedtest.PingConcurrency,
			Timeout:         cfg.Speedtest.RunTimeout(),
		}, speedtest.WithLogger(log.With(logx.String("comp", "speedtest"))))
	}
	if o.transport == nil {
		ua := "speedhook"
		if o.version != "" {
			ua += "/" + o.version
		}
		o.transport = webhook.New(webhook.Config{
			Timeout:    cfg.Webhook.RequestTimeout(),
			RatePerSec: cfg.Webhook.RatePerSec,
			UserAgent:  ua,
		})
	}

	pub := publisher.New(o.transport, cfg.Webhook.URL,
		publisher.WithIdentity(cfg.Webhook.Username, cfg.Webhook.AvatarURL),
		publisher.WithLogger(log.With(logx.String("comp", "publisher"))),
	)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		collector: metrics.NewCollector(),
		notify:    systemd.NewNotifier(log.With(logx.String("comp", "systemd"))),
		version:   o.version,
	}
	a.metrics = metrics.NewServer(metricsConfig(cfg), a.collector.Registry(), log)
	a.driver = monitor.New(o.measurer, history.New(cfg.Monitor.HistoryLength), report.Renderer{}, pub,
		monitor.WithSchedule(sched),
		monitor.WithLogger(log.With(logx.String("comp", "monitor"))),
		monitor.WithObserver(a.observe),
	)
	return a, nil
}

// validate rejects configs whose schedule does not parse.
func validate(_ context.Context, cfg *config.Config) error {
	_, err := scheduleFor(cfg)
	return err
}

func scheduleFor(cfg *config.Config) (monitor.Schedule, error) {
	if s := strings.TrimSpace(cfg.Monitor.Schedule); s != "" {
		sched, err := monitor.ParseSchedule(s)
		if err != nil {
			return monitor.Schedule{}, fmt.Errorf("monitor.schedule: %w", err)
		}
		return sched, nil
	}
	return monitor.Every(cfg.CycleInterval()), nil
}

func metricsConfig(cfg *config.Config) metrics.Config {
	return metrics.Config{Enabled: cfg.Metrics.Enabled, Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path}
}

func (a *App) observe(r monitor.CycleResult) {
	a.collector.Observe(r)
	if !r.Recorded {
		a.notify.Status("last test failed at %s", r.Started.Format(time.TimeOnly))
		return
	}
	a.notify.Status("last: %s down / %s up Mbps, %s ms (%s)",
		report.Metric(r.Sample.DownloadMbps),
		report.Metric(r.Sample.UploadMbps),
		report.Metric(r.Sample.PingMs),
		r.Outcome.Kind,
	)
}

// RunOnce performs a single cycle and reports its failure, if any.
func (a *App) RunOnce(ctx context.Context) error {
	r := a.driver.RunCycle(ctx)
	a.observe(r)
	if r.Err != nil {
		return r.Err
	}
	switch r.Outcome.Kind {
	case publisher.Failed, publisher.Unconfigured:
		return r.Outcome.Err
	}
	return nil
}

// Done is closed when the app stops on its own (fatal error) or via Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if a.metrics.Enabled() {
		a.metrics.Start(a.sup.Context())
	}

	a.sup.Go("monitor.run", a.driver.Run)

	sub := a.cfgm.Subscribe(1)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.GoRestart("systemd.watchdog", a.notify.Watchdog, rtsup.WithMaxRestarts(3))

	a.notify.Ready()
	a.log.Info("app started", logx.String("version", a.version), logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig applies what can change live and logs what needs a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Summarize(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(next.Logging.LogConfig())

	sched, err := scheduleFor(next)
	if err != nil {
		// Already rejected by the validator; keep the running schedule.
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
		sched = monitor.Schedule{}
	}
	a.driver.Reconfigure(monitor.Settings{Destination: next.Webhook.URL, Schedule: sched})
	a.metrics.Reconfigure(ctx, metricsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("some config changes need a restart to take effect",
			logx.String("settings", strings.Join(ch.RestartRequired, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.notify.Stopping()
	defer func() { _ = a.logs.Close() }()
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall shutdown.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}
	step("metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step("supervisor", 5*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return nil
}
