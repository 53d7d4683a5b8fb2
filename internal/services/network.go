package services

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// NetworkMonitor reports connectivity to the engine.
type NetworkMonitor interface {
	Available() bool
	Metered() bool
}

// StaticNetwork is a [NetworkMonitor] with fixed answers.
type StaticNetwork struct {
	Offline     bool
	MeteredLink bool
}

func (s StaticNetwork) Available() bool { return !s.Offline }
func (s StaticNetwork) Metered() bool   { return s.MeteredLink }

// ProbeMonitor tracks availability by periodically dialing a TCP address.
type ProbeMonitor struct {
	addr     string
	interval time.Duration
	metered  atomic.Bool
	up       atomic.Bool
	dialer   net.Dialer
	logger   *log.Logger
}

// NewProbeMonitor probes the host of rawURL (or a host:port) every interval.
// The link starts out as available until the first probe says otherwise.
func NewProbeMonitor(rawURL string, interval time.Duration, metered bool, logger *log.Logger) *ProbeMonitor {
	addr := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		addr = u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			addr = net.JoinHostPort(u.Hostname(), port)
		}
	}

	m := &ProbeMonitor{addr: addr, interval: interval, logger: logger}
	m.dialer.Timeout = 3 * time.Second
	m.up.Store(true)
	m.metered.Store(metered)
	return m
}

func (m *ProbeMonitor) Available() bool { return m.up.Load() }
func (m *ProbeMonitor) Metered() bool   { return m.metered.Load() }

// SetMetered updates the metered flag, e.g. after a settings reload.
func (m *ProbeMonitor) SetMetered(metered bool) { m.metered.Store(metered) }

// Check dials once and records the result.
func (m *ProbeMonitor) Check(ctx context.Context) bool {
	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		if m.up.Swap(false) {
			m.logger.Warn("network unavailable", "addr", m.addr, "error", err)
		}
		return false
	}
	_ = conn.Close()
	if !m.up.Swap(true) {
		m.logger.Info("network available", "addr", m.addr)
	}
	return true
}

// Run probes until ctx is cancelled.
func (m *ProbeMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		m.interval = 15 * time.Second
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
