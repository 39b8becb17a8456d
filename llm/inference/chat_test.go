package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gemma", body["model"])
		msgs := body["messages"].([]any)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gemma",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"action\":\"finish\",\"result\":\"ok\"}"}}]}`))
	}))
	defer server.Close()

	client, err := NewChatClient(Config{BaseURL: server.URL + "/v1", APIKey: "key", Model: "gemma", Timeout: time.Second}, nil)
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, `{"action":"finish","result":"ok"}`, text)
}

func TestChatClient_ErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client, err := NewChatClient(Config{BaseURL: server.URL, APIKey: "key", Model: "m", Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "go")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestChatBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.runpod.ai/v2/ep/openai/v1/", chatBaseURL(Config{EndpointID: "ep"}))
	assert.Equal(t, "http://local/v1/", chatBaseURL(Config{BaseURL: "http://local/v1"}))
	assert.Equal(t, "", chatBaseURL(Config{}))
}

func TestNewChatClient_Validation(t *testing.T) {
	_, err := NewChatClient(Config{Model: "m"}, nil)
	assert.Error(t, err)
	_, err = NewChatClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
}
