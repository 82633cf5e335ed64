package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
)

// ProbeConfig configures a ProbeMonitor.
type ProbeConfig struct {
	// URL is requested with HEAD on every probe.
	URL string

	Interval time.Duration
	Timeout  time.Duration

	// MeteredLatency is the round-trip time above which the link is
	// classified as metered.
	MeteredLatency time.Duration

	// Client defaults to an http.Client with Timeout.
	Client *http.Client
}

// ProbeMonitor classifies the link by probing a URL: a failed request means
// offline, a slow one metered.
type ProbeMonitor struct {
	*hub
	cfg ProbeConfig
}

var _ Monitor = (*ProbeMonitor)(nil)

// NewProbeMonitor returns a monitor that starts offline until the first
// probe completes.
func NewProbeMonitor(cfg ProbeConfig) *ProbeMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MeteredLatency <= 0 {
		cfg.MeteredLatency = 800 * time.Millisecond
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ProbeMonitor{hub: newHub(Offline), cfg: cfg}
}

// Probe performs one probe and returns the resulting class without
// publishing it.
func (m *ProbeMonitor) Probe(ctx context.Context) Class {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.URL, nil)
	if err != nil {
		return Offline
	}

	start := time.Now()
	resp, err := m.cfg.Client.Do(req)
	if err != nil {
		logger.Debug("Connectivity probe failed", logger.KeyError, err)
		return Offline
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return Offline
	}
	if time.Since(start) > m.cfg.MeteredLatency {
		return Metered
	}
	return Normal
}

// Run probes on every interval until ctx is done.
func (m *ProbeMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if c := m.Probe(ctx); m.set(c) {
			logger.Info("Connectivity changed", logger.KeyConnectivity, string(c))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
