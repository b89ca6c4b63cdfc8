package httpclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserAgentPresets(t *testing.T) {
	require.Equal(t, UAChrome, Settings{}.UserAgent())
	require.Equal(t, UAFirefox, Settings{UserAgentPreset: "firefox"}.UserAgent())
	require.Equal(t, UAEdge, Settings{UserAgentPreset: "edge"}.UserAgent())
	require.Equal(t, UASafari, Settings{UserAgentPreset: "safari"}.UserAgent())
	require.Equal(t, "my-agent/1.0", Settings{UserAgentPreset: "custom", CustomUserAgent: "my-agent/1.0"}.UserAgent())
	require.Equal(t, UAChrome, Settings{UserAgentPreset: "custom"}.UserAgent(), "empty custom agent falls back to chrome")
}

func TestNewBuildsClientWithTunedTransport(t *testing.T) {
	f := NewFactory()
	client, err := f.New(Settings{MaxConnsPerHost: 16, ForceHTTP1: true})
	require.NoError(t, err)
	require.NotNil(t, client)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.Equal(t, 16, transport.MaxConnsPerHost)
	require.False(t, transport.ForceAttemptHTTP2)
	require.NotNil(t, transport.TLSNextProto, "forcing HTTP/1.1 requires disabling protocol upgrade")
}

func TestNewDefaultsAllowHTTP2(t *testing.T) {
	f := NewFactory()
	client, err := f.New(Settings{})
	require.NoError(t, err)

	transport := client.Transport.(*http.Transport)
	require.True(t, transport.ForceAttemptHTTP2)
	require.Equal(t, 8, transport.MaxConnsPerHost, "zero MaxConnsPerHost falls back to a sane default")
}

func TestNewAppliesInsecureSkipVerify(t *testing.T) {
	f := NewFactory()
	client, err := f.New(Settings{InsecureSkipVerify: true})
	require.NoError(t, err)

	transport := client.Transport.(*http.Transport)
	require.NotNil(t, transport.TLSClientConfig)
	require.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestNewConfiguresHTTPProxy(t *testing.T) {
	f := NewFactory()
	client, err := f.New(Settings{
		Proxy: ProxySettings{Enabled: true, Type: "http", Host: "proxy.internal", Port: 8080},
	})
	require.NoError(t, err)

	transport := client.Transport.(*http.Transport)
	require.NotNil(t, transport.Proxy)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/file", nil)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	require.Equal(t, "proxy.internal:8080", proxyURL.Host)
}

func TestNewConfiguresSOCKS5Proxy(t *testing.T) {
	f := NewFactory()
	client, err := f.New(Settings{
		Proxy: ProxySettings{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080},
	})
	require.NoError(t, err)

	transport := client.Transport.(*http.Transport)
	require.NotNil(t, transport.DialContext, "socks5 proxying replaces the dialer rather than setting Proxy")
}
