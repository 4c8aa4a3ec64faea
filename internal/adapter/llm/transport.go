package llm

import (
	"net"
	"net/http"
	"time"

	"wikichat/internal/infra/config"
)

// Chat backends are few hosts with slow, long-lived requests, so the pool
// keeps connections around longer than net/http does by default.
var defaultPool = config.PoolConfig{
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	MaxConnsPerHost:     20,
	IdleConnTimeout:     2 * time.Minute,
}

const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 2 * time.Minute
)

// NewHTTPClient builds the pooled client a provider talks through. The
// overall timeout is the connect budget plus the response budget.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	connect := orDefault(cfg.ConnTimeout, defaultConnTimeout)
	respond := orDefault(cfg.RespTimeout, defaultRespTimeout)
	return &http.Client{
		Transport: pooledTransport(connect, respond, cfg.Pool),
		Timeout:   connect + respond,
	}
}

func pooledTransport(connect, respond time.Duration, pool config.PoolConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respond,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          positive(pool.MaxIdleConns, defaultPool.MaxIdleConns),
		MaxIdleConnsPerHost:   positive(pool.MaxIdleConnsPerHost, defaultPool.MaxIdleConnsPerHost),
		MaxConnsPerHost:       positive(pool.MaxConnsPerHost, defaultPool.MaxConnsPerHost),
		IdleConnTimeout:       positive(pool.IdleConnTimeout, defaultPool.IdleConnTimeout),
	}
}

// positive treats negative settings like unset ones.
func positive[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
