package fetch

import (
	"net/http"
	"net/url"

	"github.com/poiesic/imgembed/core"
	"golang.org/x/net/http/httpproxy"
)

// ProxyFunc returns the proxy selector for an http.Transport, honoring NoProxy.
// It returns nil when no proxy is configured so requests go out directly.
// Loopback destinations are never proxied.
func ProxyFunc(p *core.ProxyConfig) func(*http.Request) (*url.URL, error) {
	if p.IsZero() {
		return nil
	}
	cfg := &httpproxy.Config{
		HTTPProxy:  p.HTTP,
		HTTPSProxy: p.HTTPS,
		NoProxy:    p.NoProxy,
	}
	proxyForURL := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyForURL(req.URL)
	}
}

// NewTransport clones the default transport and routes it through p.
// The process environment is not consulted; proxies come from configuration only.
func NewTransport(p *core.ProxyConfig) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = ProxyFunc(p)
	return t
}
