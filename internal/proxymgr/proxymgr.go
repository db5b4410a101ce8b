// Package proxymgr routes outbound playlist and segment requests through a
// pool of proxies. It handles rotation, health checking and failure backoff.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"vodkeep/internal/config"
)

// State represents the current state of a proxy.
type State int

const (
	// StateAvailable indicates the proxy is available for use.
	StateAvailable State = iota
	// StateFailed indicates the proxy has failed and is in backoff.
	StateFailed
)

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = time.Hour
)

type proxyInfo struct {
	URL           *url.URL
	State         State
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// Stats is a snapshot of one proxy.
type Stats struct {
	State         State
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// Manager manages proxy rotation and health. A nil *Manager connects directly.
type Manager struct {
	log *slog.Logger
	cfg config.Proxy

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string
}

// New parses the configured proxies. Invalid URLs are an error.
func New(log *slog.Logger, cfg *config.Config) (*Manager, error) {
	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg.Proxy,
		proxies: make(map[string]*proxyInfo, len(cfg.Proxy.List)),
		order:   make([]string, 0, len(cfg.Proxy.List)),
	}

	for _, raw := range cfg.Proxy.List {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", raw)
		}

		if _, dup := mgr.proxies[raw]; dup {
			continue
		}

		mgr.proxies[raw] = &proxyInfo{URL: u, State: StateAvailable}
		mgr.order = append(mgr.order, raw)
	}

	return mgr, nil
}

// Pick returns a random available proxy, or "" when none is available.
func (m *Manager) Pick() string {
	if m == nil {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.availableLocked()
	if len(available) == 0 {
		return ""
	}

	return available[rand.IntN(len(available))] //nolint:gosec
}

// MarkFailed counts a failure and puts the proxy into exponential backoff
// once MaxFailures is reached.
func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	info.FailureCount++
	info.LastFailure = time.Now()

	if info.FailureCount < m.cfg.MaxFailures {
		return
	}

	info.State = StateFailed

	backoff := min(m.cfg.FailureBackoff*time.Duration(1<<min(info.FailureCount-m.cfg.MaxFailures, 16)), maxBackoff)
	info.BackoffUntil = time.Now().Add(backoff)

	m.log.Warn("proxy marked as failed",
		slog.String("proxy", info.URL.Redacted()),
		slog.Int("failure_count", info.FailureCount),
		slog.Duration("backoff", backoff))
}

// MarkSuccess resets the failure count of a proxy.
func (m *Manager) MarkSuccess(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	info.State = StateAvailable
	info.FailureCount = 0
	info.BackoffUntil = time.Time{}
}

// HealthCheck dials the proxy and records the result.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	m.mu.Lock()
	info, exists := m.proxies[proxyURL]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("unknown proxy %q", proxyURL)
	}

	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", info.URL.Host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	info.LastHealthChk = time.Now()
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker checks every proxy each HealthCheckInterval until ctx is done.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m == nil || m.cfg.HealthCheckInterval <= 0 || len(m.order) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", len(m.order)))
}

func (m *Manager) checkAll(ctx context.Context) {
	for _, proxy := range m.order {
		if ctx.Err() != nil {
			return
		}

		if err := m.HealthCheck(ctx, proxy); err != nil {
			m.log.Debug("proxy health check failed", slog.String("proxy", m.proxies[proxy].URL.Redacted()), slog.Any("error", err))
		}
	}
}

// GetStats returns a snapshot per proxy.
func (m *Manager) GetStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]Stats, len(m.proxies))
	for proxyURL, info := range m.proxies {
		stats[proxyURL] = Stats{
			State:         info.State,
			FailureCount:  info.FailureCount,
			LastFailure:   info.LastFailure,
			BackoffUntil:  info.BackoffUntil,
			LastHealthChk: info.LastHealthChk,
		}
	}

	return stats
}

// HasProxies reports whether any proxy is configured.
func (m *Manager) HasProxies() bool {
	return m != nil && len(m.order) > 0
}

// AvailableCount returns the number of proxies not in backoff.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.availableLocked())
}

func (m *Manager) availableLocked() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.State == StateAvailable || now.After(info.BackoffUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}

func (m *Manager) proxyURL(raw string) *url.URL {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.proxies[raw]; ok {
		return info.URL
	}

	return nil
}

type proxyKey struct{}

// Transport routes every request of base through a picked proxy and tracks
// transport failures per proxy. Without proxies base is returned unchanged.
func (m *Manager) Transport(base *http.Transport) http.RoundTripper {
	if !m.HasProxies() {
		return base
	}

	base.Proxy = func(req *http.Request) (*url.URL, error) {
		raw, _ := req.Context().Value(proxyKey{}).(string)
		if raw == "" {
			return nil, nil //nolint:nilnil
		}

		return m.proxyURL(raw), nil
	}

	return &roundTripper{mgr: m, base: base}
}

type roundTripper struct {
	mgr  *Manager
	base http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	proxy := rt.mgr.Pick()
	if proxy == "" {
		return rt.base.RoundTrip(req)
	}

	resp, err := rt.base.RoundTrip(req.WithContext(context.WithValue(req.Context(), proxyKey{}, proxy)))
	if err != nil {
		// a canceled request says nothing about the proxy
		if req.Context().Err() == nil {
			rt.mgr.MarkFailed(proxy)
		}

		return nil, err
	}

	rt.mgr.MarkSuccess(proxy)

	return resp, nil
}
