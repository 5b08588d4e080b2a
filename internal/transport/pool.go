// Package transport provides the HTTP and websocket plumbing the session
// orchestrator uses to talk to the remote-play signalling backend (§5, §6).
package transport

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig controls the shared HTTP client's connection pool.
type PoolConfig struct {
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultPoolConfig returns sensible defaults for a client talking to a
// single signalling backend.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ConnectTimeout:      5 * time.Second,
		RequestTimeout:      10 * time.Second,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewClient builds an *http.Client backed by a transport tuned for repeated
// calls to a small set of hosts (notification endpoint, web API, mobile
// push host). The client is safe for concurrent use by every orchestrator
// phase. The Reachability Prober's IGD SOAP calls do not go through it; they
// build their own short-timeout client.
func NewClient(cfg PoolConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	rt := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
	}
}
