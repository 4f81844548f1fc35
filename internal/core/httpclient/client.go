// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"strings"
	"time"
)

type Option func(*options)

type options struct {
	headers http.Header
	timeout time.Duration
	base    http.RoundTripper
}

// WithHeaders sets headers on every request that does not already carry them.
func WithHeaders(h http.Header) Option {
	return func(o *options) { o.headers = h.Clone() }
}

// WithTimeout caps a whole exchange; per-call deadlines come from the context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTransport replaces the pooled transport, for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// NewOutbound creates a new outbound http client
func NewOutbound(opts ...Option) *http.Client {
	o := options{timeout: 30 * time.Second}
	for _, f := range opts {
		f(&o)
	}
	rt := o.base
	if rt == nil {
		rt = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          256,
			MaxIdleConnsPerHost:   64,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		}
	}
	if len(o.headers) > 0 {
		rt = &headerTransport{base: rt, headers: o.headers}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   o.timeout,
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, vs := range t.headers {
		if r.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(r)
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// BrowserHeaders returns the headers the tile service expects from its own
// map page; without them requests are silently filtered.
func BrowserHeaders(baseURL string) http.Header {
	origin := baseURL
	if i := strings.Index(origin, "://"); i >= 0 {
		if j := strings.IndexByte(origin[i+3:], '/'); j >= 0 {
			origin = origin[:i+3+j]
		}
	}
	h := http.Header{}
	h.Set("User-Agent", browserUA)
	h.Set("Accept", "application/json, application/x-protobuf, */*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Referer", origin+"/")
	h.Set("Origin", origin)
	return h
}
