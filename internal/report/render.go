// Package report renders the status embed from the latest sample and history.
package report

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"speedhook/pkg/speedtest"
)

const (
	AuthorName   = "Live Internet Speed Report"
	Color        = 0x3498db
	NoHistory    = "No historical data yet."
	HistoryTitle = "Recent History (Newest First)"
)

// Renderer turns samples into a Body. It has no side effects; equal inputs
// give byte-identical output.
type Renderer struct {
	// Cadence completes "Continuously monitoring ..." in the footer,
	// e.g. "every hour" (see DescribeInterval).
	Cadence string
	// HistoryLength is the buffer capacity shown in the footer.
	HistoryLength int
	// Location for the HH:MM history labels. Nil means time.Local.
	Location *time.Location
}

// Render builds the report body. history is expected newest first.
func (r Renderer) Render(latest speedtest.Sample, history iter.Seq[speedtest.Sample]) Body {
	dl := Metric(latest.DownloadMbps)
	ul := Metric(latest.UploadMbps)

	return Body{
		Author:      &Author{Name: AuthorName},
		Title:       fmt.Sprintf("Latest: %s Mbps Download / %s Mbps Upload", dl, ul),
		Description: fmt.Sprintf("Last updated: **<t:%d:F>**", latest.Timestamp.Unix()),
		Color:       Color,
		Fields: []Field{
			{Name: "Download Speed", Value: "**" + dl + " Mbps**", Inline: true},
			{Name: "Upload Speed", Value: "**" + ul + " Mbps**", Inline: true},
			{Name: "Latency (Ping)", Value: "**" + Metric(latest.PingMs) + " ms**", Inline: true},
			{Name: HistoryTitle, Value: r.historyText(history), Inline: false},
		},
		Footer: &Footer{Text: r.footer()},
	}
}

func (r Renderer) historyText(history iter.Seq[speedtest.Sample]) string {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	if history != nil {
		for s := range history {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "`%s` - **↓** %s Mbps, **↑** %s Mbps, **Ping:** %s ms",
				s.Timestamp.In(loc).Format("15:04"),
				Metric(s.DownloadMbps),
				Metric(s.UploadMbps),
				Metric(s.PingMs),
			)
		}
	}
	if b.Len() == 0 {
		return NoHistory
	}
	return b.String()
}

func (r Renderer) footer() string {
	cadence := strings.TrimSpace(r.Cadence)
	if cadence == "" {
		cadence = DescribeInterval(time.Hour)
	}
	return fmt.Sprintf("Continuously monitoring %s. History shows last %d tests.", cadence, r.HistoryLength)
}

// Metric rounds v to two decimals and formats it with exactly two decimals.
func Metric(v float64) string {
	return strconv.FormatFloat(Round2(v), 'f', 2, 64)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*100) / 100
}

// DescribeInterval renders a wait interval for the footer ("every hour",
// "every 30 minutes", "every 1m30s").
func DescribeInterval(d time.Duration) string {
	switch {
	case d <= 0:
		return "continuously"
	case d == time.Hour:
		return "every hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("every %d hours", d/time.Hour)
	case d == time.Minute:
		return "every minute"
	case d%time.Minute == 0:
		return fmt.Sprintf("every %d minutes", d/time.Minute)
	case d == time.Second:
		return "every second"
	case d%time.Second == 0 && d < time.Minute:
		return fmt.Sprintf("every %d seconds", d/time.Second)
	default:
		return "every " + d.String()
	}
}
