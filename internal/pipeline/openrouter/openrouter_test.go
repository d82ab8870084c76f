package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/labelscan/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_Classify(t *testing.T) {
	prompt, err := pipeline.NewPrompt("RULES:{{.Rules}} TEXT:{{.Text}}")
	require.NoError(t, err)

	tests := []struct {
		name     string
		status   int
		response string
		want     string
		wantErr  string
	}{
		{
			name:     "first choice content",
			status:   http.StatusOK,
			response: `{"choices":[{"message":{"role":"assistant","content":"{\"verdict\":true}"}}]}`,
			want:     `{"verdict":true}`,
		},
		{
			name:     "non-2xx",
			status:   http.StatusTooManyRequests,
			response: `{"error":{"message":"rate limited"}}`,
			wantErr:  "chat completion 429",
		},
		{
			name:     "error body with 200",
			status:   http.StatusOK,
			response: `{"error":{"message":"model overloaded"}}`,
			wantErr:  "model overloaded",
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			response: `{"choices":[]}`,
			wantErr:  "no choices",
		},
		{
			name:     "missing message",
			status:   http.StatusOK,
			response: `{"choices":[{}]}`,
			wantErr:  "no choices",
		},
		{
			name:     "empty content",
			status:   http.StatusOK,
			response: `{"choices":[{"message":{"role":"assistant","content":"  "}}]}`,
			wantErr:  "is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

				var req chatRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "test/model", req.Model)
				if assert.Len(t, req.Messages, 1) {
					assert.Equal(t, "user", req.Messages[0].Role)
					assert.Equal(t, "RULES:[] TEXT:milk 3.2%", req.Messages[0].Content)
				}

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			c := New(Config{
				BaseURL: srv.URL + "/api/v1/",
				APIKey:  "token-1",
				Model:   "test/model",
			}, prompt, srv.Client(), nil)

			got, err := c.Classify(context.Background(), "milk 3.2%", "[]")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifier_HonoursContext(t *testing.T) {
	prompt, err := pipeline.NewPrompt("")
	require.NoError(t, err)

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(Config{BaseURL: srv.URL, Model: "m"}, prompt, srv.Client(), nil).Classify(ctx, "text", "rules")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifier_RejectedRequestKeepsBodyOutOfError(t *testing.T) {
	prompt, err := pipeline.NewPrompt("")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream trace id=abc123 provider=internal-pool-7"}}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	_, err = New(Config{BaseURL: srv.URL, Model: "m"}, prompt, srv.Client(), logger).Classify(context.Background(), "text", "rules")
	require.Error(t, err)

	assert.Equal(t, "chat completion 502: Bad Gateway", err.Error())
	assert.NotContains(t, err.Error(), "internal-pool-7")
	assert.Contains(t, logs.String(), "internal-pool-7")
	assert.Contains(t, logs.String(), "status=502")
}
