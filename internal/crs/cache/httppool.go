package cache

import (
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// httpPool is a shared HTTP client configured for HTTP/2 with a
// per-origin rate limiter, mirroring the role of the original
// implementation's thread-local connection pool (bpt::http_pool)
// without the thread-local part: Go's http.Client is already safe for
// concurrent use by every goroutine in a Sync fan-out.
type httpPool struct {
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newHTTPPool builds a pool with a generous default per-origin limit.
func newHTTPPool() *httpPool {
	transport := &http.Transport{}
	_ = http2.ConfigureTransport(transport)
	return &httpPool{
		client:   &http.Client{Transport: transport},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *httpPool) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(8), 8)
		p.limiters[host] = l
	}
	return l
}

func hostOf(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	return u.Host
}
