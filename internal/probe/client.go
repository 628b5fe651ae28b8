package probe

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// clientCache keeps one *http.Client per distinct proxy string, as called
// out ("Do not share HTTP clients across proxy
// configurations; cache one client per distinct proxy string").
type clientCache struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func newClientCache() *clientCache {
	return &clientCache{clients: make(map[string]*http.Client)}
}

// get returns the cached client for proxyURL, building one on first use.
// An empty proxyURL means "direct": the transport has no Proxy function, so
// HTTP_PROXY/HTTPS_PROXY environment variables are not consulted.
func (c *clientCache) get(proxyURL string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[proxyURL]; ok {
		return cl, nil
	}

	transport, err := buildTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	cl := &http.Client{Transport: transport}
	c.clients[proxyURL] = cl
	return cl, nil
}

func buildTransport(proxyURL string) (*http.Transport, error) {
	base := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL == "" {
		return base, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}

	switch parsed.Scheme {
	case "http", "https":
		base.Proxy = http.ProxyURL(parsed)
		return base, nil
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			pw, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: pw}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		base.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		return base, nil
	}
	return nil, &url.Error{Op: "proxy", URL: proxyURL, Err: errUnsupportedScheme}
}

var errUnsupportedScheme = unsupportedSchemeErr{}

type unsupportedSchemeErr struct{}

func (unsupportedSchemeErr) Error() string { return "unsupported proxy scheme" }
