// Package httpclient configures the HTTP client used to call the workspace
// service, the candidate asset host and the optimizer.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type Options struct {
	// Timeout bounds a whole exchange. Zero leaves the deadline to the
	// request context, which the selection client relies on.
	Timeout   time.Duration
	UserAgent string
}

// NewOutbound creates a new outbound http client.
func NewOutbound(o Options) *http.Client {
	var rt http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if o.UserAgent != "" {
		rt = userAgent{next: rt, ua: o.UserAgent}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   o.Timeout,
	}
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("User-Agent", u.ua)
	return u.next.RoundTrip(r2)
}
