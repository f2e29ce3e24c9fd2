package report

import (
	"encoding/json"
	"iter"
	"slices"
	"strings"
	"testing"
	"time"

	"speedhook/pkg/speedtest"
)

func seq(samples ...speedtest.Sample) iter.Seq[speedtest.Sample] {
	return slices.Values(samples)
}

func testRenderer() Renderer {
	return Renderer{Cadence: "every hour", HistoryLength: 5, Location: time.UTC}
}

func TestRenderEmptyHistoryUsesPlaceholder(t *testing.T) {
	latest := speedtest.Sample{Timestamp: time.Unix(1700000000, 0), DownloadMbps: 1, UploadMbps: 2, PingMs: 3}
	body := testRenderer().Render(latest, seq())

	hist := body.Fields[3]
	if hist.Name != HistoryTitle || hist.Inline {
		t.Fatalf("unexpected history field: %+v", hist)
	}
	if hist.Value != NoHistory {
		t.Fatalf("history value = %q, want %q", hist.Value, NoHistory)
	}

	if got := testRenderer().Render(latest, nil).Fields[3].Value; got != NoHistory {
		t.Fatalf("nil history value = %q, want placeholder", got)
	}
}

func TestRenderLayout(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 7, 0, 0, time.UTC)
	latest := speedtest.Sample{Timestamp: ts, DownloadMbps: 93.456, UploadMbps: 11.1, PingMs: 12.004}
	older := speedtest.Sample{Timestamp: ts.Add(-time.Hour), DownloadMbps: 80, UploadMbps: 9.999, PingMs: 20.5}

	body := testRenderer().Render(latest, seq(latest, older))

	if body.Author == nil || body.Author.Name != AuthorName {
		t.Fatalf("author = %+v", body.Author)
	}
	if body.Title != "Latest: 93.46 Mbps Download / 11.10 Mbps Upload" {
		t.Fatalf("title = %q", body.Title)
	}
	if body.Description != "Last updated: **<t:1714572420:F>**" {
		t.Fatalf("description = %q", body.Description)
	}
	if body.Color != Color {
		t.Fatalf("color = %x", body.Color)
	}

	wantFields := []Field{
		{Name: "Download Speed", Value: "**93.46 Mbps**", Inline: true},
		{Name: "Upload Speed", Value: "**11.10 Mbps**", Inline: true},
		{Name: "Latency (Ping)", Value: "**12.00 ms**", Inline: true},
	}
	for i, want := range wantFields {
		if body.Fields[i] != want {
			t.Fatalf("field %d = %+v, want %+v", i, body.Fields[i], want)
		}
	}

	wantHist := "`14:07` - **↓** 93.46 Mbps, **↑** 11.10 Mbps, **Ping:** 12.00 ms\n" +
		"`13:07` - **↓** 80.00 Mbps, **↑** 10.00 Mbps, **Ping:** 20.50 ms"
	if body.Fields[3].Value != wantHist {
		t.Fatalf("history =\n%s\nwant\n%s", body.Fields[3].Value, wantHist)
	}

	if body.Footer == nil || body.Footer.Text != "Continuously monitoring every hour. History shows last 5 tests." {
		t.Fatalf("footer = %+v", body.Footer)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	latest := speedtest.Sample{Timestamp: ts, DownloadMbps: 1.0 / 3, UploadMbps: 2.0 / 3, PingMs: 7.777}
	h := seq(latest, speedtest.Sample{Timestamp: ts.Add(-time.Hour), DownloadMbps: 5})

	a, err := json.Marshal(testRenderer().Render(latest, h))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(testRenderer().Render(latest, h))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("render not deterministic:\n%s\n%s", a, b)
	}
}

func TestMetricRounding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{10, "10.00"},
		{12.346, "12.35"},
		{1.004, "1.00"},
		{99.999, "100.00"},
		{0.1, "0.10"},
		{-3.456, "-3.46"},
	}
	for _, tt := range tests {
		if got := Metric(tt.in); got != tt.want {
			t.Fatalf("Metric(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for v := 0.0; v < 50; v += 0.137 {
		got := Metric(v)
		dot := strings.IndexByte(got, '.')
		if dot < 0 || len(got)-dot-1 != 2 {
			t.Fatalf("Metric(%v) = %q: want exactly two decimals", v, got)
		}
	}
}

func TestDescribeInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "every hour"},
		{2 * time.Hour, "every 2 hours"},
		{30 * time.Minute, "every 30 minutes"},
		{time.Minute, "every minute"},
		{45 * time.Second, "every 45 seconds"},
		{90 * time.Second, "every 1m30s"},
	}
	for _, tt := range tests {
		if got := DescribeInterval(tt.in); got != tt.want {
			t.Fatalf("DescribeInterval(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
