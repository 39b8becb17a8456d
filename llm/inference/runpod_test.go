package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(baseURL string) Config {
	return Config{
		Backend:             BackendRunPod,
		BaseURL:             baseURL,
		EndpointID:          "ep-1",
		APIKey:              "key",
		Timeout:             time.Second,
		PollInitialInterval: 5 * time.Millisecond,
		PollMaxInterval:     10 * time.Millisecond,
		RequestTimeout:      time.Second,
	}
}

func TestRunPodClient_RunAndPoll(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/ep-1/run":
			var body map[string]map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["input"]["prompt"])
			w.Write([]byte(`{"id":"job-9","status":"IN_QUEUE"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/ep-1/status/job-9":
			if polls.Add(1) < 3 {
				w.Write([]byte(`{"id":"job-9","status":"IN_PROGRESS"}`))
				return
			}
			w.Write([]byte(`{"id":"job-9","status":"COMPLETED","output":[{"choices":[{"text":"{\"action\":\"think\"}"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := NewRunPodClient(testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"action":"think"}`, text)
	assert.Equal(t, int32(3), polls.Load())
}

func TestRunPodClient_JobFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/run") {
			w.Write([]byte(`{"id":"job-1"}`))
			return
		}
		w.Write([]byte(`{"id":"job-1","status":"FAILED","error":"worker crashed"}`))
	}))
	defer server.Close()

	client, err := NewRunPodClient(testConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "worker crashed")
}

func TestRunPodClient_TimeoutCancelsJob(t *testing.T) {
	var cancelled atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/run"):
			w.Write([]byte(`{"id":"job-2"}`))
		case strings.Contains(r.URL.Path, "/cancel/"):
			cancelled.Store(true)
			w.Write([]byte(`{}`))
		default:
			w.Write([]byte(`{"id":"job-2","status":"IN_QUEUE"}`))
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 60 * time.Millisecond
	client, err := NewRunPodClient(cfg, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.True(t, cancelled.Load(), "timed out job should be cancelled")
}

func TestRunPodClient_SubmitRetriesServerErrors(t *testing.T) {
	var runs atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/run") {
			if runs.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"id":"job-3"}`))
			return
		}
		w.Write([]byte(`{"status":"COMPLETED","output":"plain text"}`))
	}))
	defer server.Close()

	client, err := NewRunPodClient(testConfig(server.URL), nil)
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "plain text", text)
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunPodClient_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewRunPodClient(testConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "x")
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
}

func TestNewRunPodClient_Validation(t *testing.T) {
	_, err := NewRunPodClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
	_, err = NewRunPodClient(Config{EndpointID: "e"}, nil)
	assert.Error(t, err)
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"choices text", `[{"choices":[{"text":"a"}]}]`, "a", false},
		{"choices tokens", `[{"choices":[{"tokens":["a","b"]}]}]`, "ab", false},
		{"object choices", `{"choices":[{"message":{"content":"c"}}]}`, "c", false},
		{"string", `"s"`, "s", false},
		{"empty", ``, "", true},
		{"null", `null`, "", true},
		{"no choices", `[{"choices":[]}]`, "", true},
		{"number", `42`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractText(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	c, err := New(Config{Backend: BackendRunPod, EndpointID: "e", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendRunPod, c.Name())

	c, err = New(Config{Backend: BackendOpenAI, APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAI, c.Name())

	_, err = New(Config{Backend: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
