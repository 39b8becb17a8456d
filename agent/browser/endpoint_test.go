package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// redirectClient sends every request to target regardless of the host asked for.
func redirectClient(target string) *http.Client {
	u, _ := url.Parse(target)
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		r = r.Clone(r.Context())
		r.URL.Scheme = u.Scheme
		r.URL.Host = u.Host
		return http.DefaultTransport.RoundTrip(r)
	})}
}

func versionServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/version", r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestResolveEndpoint_WebSocketPassthrough(t *testing.T) {
	for _, ep := range []string{"ws://10.0.0.5:9222/devtools/browser/x", "wss://tunnel.example/devtools/browser/y"} {
		got, err := ResolveEndpoint(context.Background(), nil, ep)
		require.NoError(t, err)
		assert.Equal(t, ep, got)
	}
}

func TestResolveEndpoint_HTTP(t *testing.T) {
	const answer = `{"Browser":"Chrome/120","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`
	server := versionServer(t, answer, http.StatusOK)

	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"loopback endpoint keeps url", server.URL, "ws://127.0.0.1:9222/devtools/browser/abc"},
		{"remote host rewritten", "http://browser.internal:9222", "ws://browser.internal:9222/devtools/browser/abc"},
		{"tunnel over https", "https://abc.tunnel.example/", "wss://abc.tunnel.example/devtools/browser/abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEndpoint(context.Background(), redirectClient(server.URL), tt.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEndpoint_Failures(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := ResolveEndpoint(context.Background(), nil, "  ")
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := ResolveEndpoint(context.Background(), nil, "ftp://host:21")
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})

	t.Run("bad status", func(t *testing.T) {
		server := versionServer(t, "boom", http.StatusInternalServerError)
		_, err := ResolveEndpoint(context.Background(), nil, server.URL)
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})

	t.Run("missing debugger url", func(t *testing.T) {
		server := versionServer(t, `{"Browser":"Chrome"}`, http.StatusOK)
		_, err := ResolveEndpoint(context.Background(), nil, server.URL)
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()
		_, err := ResolveEndpoint(context.Background(), nil, addr)
		assert.ErrorIs(t, err, ErrSessionUnavailable)
	})
}
