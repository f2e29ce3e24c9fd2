package config

import (
	"net/url"
	"strings"

	logx "speedhook/pkg/logx"
)

// Change describes what differs between two configs.
type Change struct {
	// Sections lists changed top-level sections in file order.
	Sections []string
	// Fields are safe to log; the webhook URL is reduced to its host.
	Fields []logx.Field
	// RestartRequired names settings that only take effect after a restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs for reload logging.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ow, nw := oldCfg.Webhook, newCfg.Webhook
	if strings.TrimSpace(ow.URL) != strings.TrimSpace(nw.URL) ||
		ow.Username != nw.Username || ow.AvatarURL != nw.AvatarURL ||
		strings.TrimSpace(ow.Timeout) != strings.TrimSpace(nw.Timeout) ||
		ow.RatePerSec != nw.RatePerSec {
		ch.Sections = append(ch.Sections, "webhook")
		ch.Fields = append(ch.Fields,
			logx.Bool("webhook.url_changed", strings.TrimSpace(ow.URL) != strings.TrimSpace(nw.URL)),
			logx.String("webhook.host", redactURL(nw.URL)),
		)
		if ow.Username != nw.Username || ow.AvatarURL != nw.AvatarURL {
			ch.RestartRequired = append(ch.RestartRequired, "webhook.username", "webhook.avatar_url")
		}
		if strings.TrimSpace(ow.Timeout) != strings.TrimSpace(nw.Timeout) || ow.RatePerSec != nw.RatePerSec {
			ch.RestartRequired = append(ch.RestartRequired, "webhook.timeout", "webhook.rate_per_sec")
		}
	}

	om, nm := oldCfg.Monitor, newCfg.Monitor
	if om != nm {
		ch.Sections = append(ch.Sections, "monitor")
		ch.Fields = append(ch.Fields,
			logx.Int("monitor.history_length", nm.HistoryLength),
			logx.Int("monitor.cycle_interval_seconds", nm.CycleIntervalSeconds),
			logx.String("monitor.schedule", strings.TrimSpace(nm.Schedule)),
		)
		if om.HistoryLength != nm.HistoryLength {
			ch.RestartRequired = append(ch.RestartRequired, "monitor.history_length")
		}
	}

	ost, nst := oldCfg.Speedtest, newCfg.Speedtest
	if ost.ServerCount != nst.ServerCount || ost.FullTestServers != nst.FullTestServers ||
		boolValue(ost.SavingMode) != boolValue(nst.SavingMode) ||
		ost.MaxConnections != nst.MaxConnections || ost.PingConcurrency != nst.PingConcurrency ||
		strings.TrimSpace(ost.Timeout) != strings.TrimSpace(nst.Timeout) {
		ch.Sections = append(ch.Sections, "speedtest")
		ch.Fields = append(ch.Fields, logx.Bool("speedtest.saving_mode", boolValue(nst.SavingMode)))
		ch.RestartRequired = append(ch.RestartRequired, "speedtest")
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		ch.Sections = append(ch.Sections, "metrics")
		ch.Fields = append(ch.Fields,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
		)
	}

	return ch
}

func boolValue(b *bool) bool { return b != nil && *b }

// redactURL keeps only the host of a webhook URL.
func redactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
