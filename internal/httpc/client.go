// Package httpc builds outbound HTTP clients. Never use http.DefaultClient:
// it has no timeout, and a hung model endpoint would pin a resolver
// goroutine forever.
package httpc

import (
	"net"
	"net/http"
	"time"
)

const (
	dialTimeout = 5 * time.Second
	idleTimeout = 90 * time.Second
)

// New returns a client whose requests give up after timeout. Connections
// are pooled per host; outbound traffic here goes to one or two hosts.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       idleTimeout,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: timeout,
		},
	}
}
