package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
)

type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ResolveEndpoint turns a user-supplied browser address into a DevTools
// websocket URL.
//
//   - ws:// and wss:// are returned unchanged.
//   - http(s):// is queried for webSocketDebuggerUrl (at /json/version when
//     no path is given). Loopback hosts in the answer are replaced with the
//     endpoint's host, so tunnelled browsers stay reachable.
//   - a bare host:port goes through launcher.ResolveURL.
func ResolveEndpoint(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("%w: empty endpoint", ErrSessionUnavailable)
	}
	if client == nil {
		client = http.DefaultClient
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		resolved, rerr := launcher.ResolveURL(endpoint)
		if rerr != nil {
			return "", fmt.Errorf("%w: resolve %q: %v", ErrSessionUnavailable, endpoint, rerr)
		}
		return resolved, nil
	}

	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrSessionUnavailable, u.Scheme)
	}

	probe := *u
	if probe.Path == "" || probe.Path == "/" {
		probe.Path = "/json/version"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: probe %s: %v", ErrSessionUnavailable, probe.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: probe %s: status %d: %s", ErrSessionUnavailable,
			probe.String(), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decode version info: %v", ErrSessionUnavailable, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%w: no webSocketDebuggerUrl at %s", ErrSessionUnavailable, probe.String())
	}

	return rewriteLoopback(info.WebSocketDebuggerURL, u)
}

func rewriteLoopback(wsURL string, endpoint *url.URL) (string, error) {
	ws, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("%w: bad webSocketDebuggerUrl %q", ErrSessionUnavailable, wsURL)
	}
	if !isLoopback(ws.Hostname()) || isLoopback(endpoint.Hostname()) {
		return wsURL, nil
	}

	ws.Host = endpoint.Host
	if endpoint.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	return ws.String(), nil
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "127.0.0.1", "localhost", "::1", "0.0.0.0":
		return true
	}
	return false
}
