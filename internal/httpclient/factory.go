// Package httpclient builds the tuned *http.Client used for both probing and
// range-request downloading, with its connection-pooling, proxy, and TLS
// configuration. The lifecycle manager builds one per New/Resume request.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/surge-downloader/surge-core/internal/utils"
)

// User-Agent presets, matching the browsers a server is most likely to treat
// leniently for range requests.
const (
	UAChrome  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	UAFirefox = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	UAEdge    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	UASafari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15"
)

const (
	defaultMaxIdleConns          = 100
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 15 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultKeepAlive             = 60 * time.Second
)

// ProxySettings configures an optional upstream proxy. Type is one of
// "http", "https", or "socks5"; Host/Port are required when Enabled is true.
type ProxySettings struct {
	Enabled     bool
	Type        string
	Host        string
	Port        int
	AuthEnabled bool
	Username    string
	Password    string
}

// Settings configures one Factory-built client. Read-stall detection is not
// a client concern: the worker pool watches for stalled bodies itself (see
// internal/worker), since a whole-request deadline would abort large
// segments that are transferring steadily.
type Settings struct {
	MaxConnsPerHost    int
	ConnectTimeout     time.Duration
	UserAgentPreset    string // "chrome", "firefox", "edge", "safari", "custom"
	CustomUserAgent    string
	Proxy              ProxySettings
	InsecureSkipVerify bool
	ForceHTTP1         bool // force HTTP/1.1 so multiple concurrent ranged GETs open distinct TCP connections
}

// UserAgent resolves the configured preset to its literal string.
func (s Settings) UserAgent() string {
	switch s.UserAgentPreset {
	case "firefox":
		return UAFirefox
	case "edge":
		return UAEdge
	case "safari":
		return UASafari
	case "custom":
		if s.CustomUserAgent != "" {
			return s.CustomUserAgent
		}
		return UAChrome
	default:
		return UAChrome
	}
}

// Factory builds http.Clients from Settings.
type Factory struct{}

// NewFactory returns a Factory. It holds no state; it exists so construction
// reads the same as the rest of the engine's constructor-based packages.
func NewFactory() *Factory { return &Factory{} }

// New builds an *http.Client tuned for concurrent range-request downloads:
// a bounded connection pool, HTTP/2 allowed by default and disabled by
// ForceHTTP1 (so N workers open N distinct TCP connections instead of
// multiplexing a single stream), and optional SOCKS5/HTTP proxy and
// TLS-verification overrides.
func (f *Factory) New(s Settings) (*http.Client, error) {
	maxConns := s.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 8
	}

	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,
		MaxConnsPerHost:     maxConns,

		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,

		DisableCompression: true,

		DialContext: (&net.Dialer{
			Timeout:   firstPositive(s.ConnectTimeout, defaultDialTimeout),
			KeepAlive: defaultKeepAlive,
		}).DialContext,
	}

	if s.ForceHTTP1 {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	} else {
		transport.ForceAttemptHTTP2 = true
		transport.HTTP2 = &http.HTTP2Config{SendPingTimeout: 30 * time.Second}
	}

	if s.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if err := applyProxy(transport, s.Proxy); err != nil {
		return nil, err
	}

	// No Client.Timeout: it would bound the entire request including the
	// body, and a multi-gigabyte segment legitimately streams for longer
	// than any fixed ceiling. Connect is bounded by the dialer, the header
	// wait by ResponseHeaderTimeout, and body stalls by the worker's own
	// per-read watchdog.
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("httpclient: stopped after 10 redirects")
			}
			if len(via) > 0 {
				for key, vals := range via[0].Header {
					if key == "Range" {
						continue
					}
					req.Header[key] = vals
				}
			}
			return nil
		},
	}, nil
}

func applyProxy(transport *http.Transport, p ProxySettings) error {
	if !p.Enabled || p.Host == "" {
		transport.Proxy = http.ProxyFromEnvironment
		return nil
	}

	if p.Type == "socks5" {
		var auth *proxy.Auth
		if p.AuthEnabled && p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("%s:%d", p.Host, p.Port), auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("httpclient: building SOCKS5 dialer: %w", err)
		}
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		utils.Debug("httpclient: using SOCKS5 proxy %s:%d", p.Host, p.Port)
		return nil
	}

	proxyURL := &url.URL{
		Scheme: p.Type,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.AuthEnabled && p.Username != "" {
		proxyURL.User = url.UserPassword(p.Username, p.Password)
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	return nil
}

func firstPositive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
