package speedtest

import (
	"errors"
	"fmt"
	"time"
)

// Sample is a single throughput + latency measurement.
//
// DownloadMbps, UploadMbps and PingMs are the values the monitor renders; the
// remaining fields are informational and only end up in logs.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`

	Jitter        float64       `json:"jitter"`
	ISP           string        `json:"isp"`
	ServerName    string        `json:"server_name"`
	ServerCountry string        `json:"server_country"`
	Duration      time.Duration `json:"-"`
}

// Error reports a failed measurement and the stage it failed in.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "speedtest " + e.Stage + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrNoServers      = errors.New("no servers available")
	ErrAllPingsFailed = errors.New("all latency tests failed")
	ErrAllFullFailed  = errors.New("full test failed for all servers")
)

func stageErr(stage string, err error) error {
	return &Error{Stage: stage, Err: err}
}

// String is used in log lines.
func (s Sample) String() string {
	return fmt.Sprintf("down=%.2fMbps up=%.2fMbps ping=%.2fms", s.DownloadMbps, s.UploadMbps, s.PingMs)
}
