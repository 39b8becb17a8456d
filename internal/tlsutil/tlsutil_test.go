package tlsutil

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardened(t *testing.T) {
	cfg := Hardened()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// 每次返回独立副本
	cfg.CipherSuites[0] = tls.TLS_RSA_WITH_AES_128_CBC_SHA
	assert.NotEqual(t, cfg.CipherSuites[0], Hardened().CipherSuites[0])
}

func TestClientConfig_ServerName(t *testing.T) {
	tests := map[string]string{
		"redis.internal:6380": "redis.internal",
		"redis.internal":      "redis.internal",
		"[::1]:6379":          "::1",
		"chrome:9222":         "chrome",
	}
	for addr, want := range tests {
		cfg := ClientConfig(addr)
		assert.Equal(t, want, cfg.ServerName, addr)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	}
}

func TestServerConfig_Errors(t *testing.T) {
	_, err := ServerConfig("", "key.pem")
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = ServerConfig(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls")
}

func TestHTTPClient(t *testing.T) {
	client := HTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.Equal(t, 8, tr.MaxIdleConnsPerHost)

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer plain.Close()
	resp, err := client.Get(plain.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// 自签名证书不被信任
	secure := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer secure.Close()
	_, err = client.Get(secure.URL)
	assert.Error(t, err)
}
