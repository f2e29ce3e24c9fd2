package speedtest

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	logx "speedhook/pkg/logx"
)

// RunConfig controls how a measurement is executed.
type RunConfig struct {
	// Candidate servers to consider (sorted by distance, then pinged).
	ServerCount int
	// Number of lowest-latency servers that get a full download/upload test.
	// Full tests run sequentially to keep peak memory low.
	FullTestServers int

	// Passed through to speedtest-go UserConfig.
	SavingMode     bool
	MaxConnections int

	// PingConcurrency caps how many ping tests run concurrently.
	PingConcurrency int

	// Timeout bounds a whole measurement. 0 disables it.
	Timeout time.Duration
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	if c.FullTestServers > c.ServerCount {
		c.FullTestServers = c.ServerCount
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	return c
}

// Runner measures throughput against speedtest.net servers.
type Runner struct {
	cfg RunConfig
	log logx.Logger
	now func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

func WithLogger(log logx.Logger) Option { return func(r *Runner) { r.log = log } }

// NewRunner constructs a Runner.
func NewRunner(cfg RunConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg.withDefaults(), log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Measure executes one measurement. Every failure is returned as *Error.
func (r *Runner) Measure(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, stageErr("start", err)
	}

	cfg := r.cfg
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := r.now()
	hc, tr := newHTTPClient(cfg)
	defer tr.CloseIdleConnections()

	// Avoid package-level speedtest helpers; speedtest-go keeps package-level state.
	stc := st.New(
		st.WithUserConfig(&st.UserConfig{SavingMode: cfg.SavingMode, MaxConnections: cfg.MaxConnections}),
		st.WithDoer(hc),
	)
	stc.SetNThread(cfg.MaxConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return Sample{}, stageErr("fetch user info", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return Sample{}, stageErr("fetch server list", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return Sample{}, stageErr("select server", ErrNoServers)
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(cfg.ServerCount, len(servers))]

	pinged := pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		if ctx.Err() != nil {
			return Sample{}, stageErr("ping", ctx.Err())
		}
		return Sample{}, stageErr("ping", ErrAllPingsFailed)
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	results := make([]serverResult, 0, cfg.FullTestServers)
	for _, s := range pinged[:min(cfg.FullTestServers, len(pinged))] {
		if ctx.Err() != nil {
			return Sample{}, stageErr("full test", ctx.Err())
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			r.log.Debug("download test failed", logx.String("server", s.Sponsor), logx.Err(err))
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			r.log.Debug("upload test failed", logx.String("server", s.Sponsor), logx.Err(err))
			continue
		}
		results = append(results, serverResult{
			server:   s,
			download: s.DLSpeed.Mbps(),
			upload:   s.ULSpeed.Mbps(),
			ping:     s.Latency,
		})
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(results) == 0 {
		return Sample{}, stageErr("full test", ErrAllFullFailed)
	}

	avg := average(results)
	best := fastest(results)

	jitter := float64(best.server.Jitter.Microseconds()) / 1000
	if jitter <= 0 {
		jitter = math.Max(0.1, avg.pingMs()*0.1)
	}

	return Sample{
		Timestamp:     r.now(),
		DownloadMbps:  avg.download,
		UploadMbps:    avg.upload,
		PingMs:        avg.pingMs(),
		Jitter:        jitter,
		ISP:           user.Isp,
		ServerName:    best.server.Sponsor,
		ServerCountry: best.server.Country,
		Duration:      r.now().Sub(start),
	}, nil
}

func pingCandidates(ctx context.Context, servers []*st.Server, limit int) []*st.Server {
	sem := make(chan struct{}, max(1, limit))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make([]*st.Server, 0, len(servers))
	)
	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return out
}

type serverResult struct {
	server   *st.Server
	download float64
	upload   float64
	ping     time.Duration
}

func (r serverResult) pingMs() float64 { return float64(r.ping.Microseconds()) / 1000 }

func average(results []serverResult) serverResult {
	var out serverResult
	if len(results) == 0 {
		return out
	}
	for _, r := range results {
		out.download += r.download
		out.upload += r.upload
		out.ping += r.ping
	}
	n := len(results)
	out.download /= float64(n)
	out.upload /= float64(n)
	out.ping /= time.Duration(n)
	return out
}

// fastest prefers lower ping, then higher download.
func fastest(results []serverResult) serverResult {
	best := results[0]
	for _, r := range results[1:] {
		if r.ping < best.ping || (r.ping == best.ping && r.download > best.download) {
			best = r
		}
	}
	return best
}

func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.Timeout > 0 && cfg.Timeout/2 < dialTimeout {
		dialTimeout = max(cfg.Timeout/2, 2*time.Second)
	}

	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: -1}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		IdleConnTimeout:       2 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableKeepAlives:     true,
		// HTTP/1.1 only: fewer persistent goroutines once the run is over.
		ForceAttemptHTTP2: false,
		TLSNextProto:      map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	return &http.Client{Transport: tr}, tr
}
