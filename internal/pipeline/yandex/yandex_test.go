package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestExtractor_Extract(t *testing.T) {
	img := testPNG(t)

	tests := []struct {
		name     string
		status   int
		response string
		want     string
		wantErr  string
	}{
		{
			name:     "full text",
			status:   http.StatusOK,
			response: `{"result":{"textAnnotation":{"fullText":"  Proteins 3.2 g\nFats 1 g  "}}}`,
			want:     "Proteins 3.2 g\nFats 1 g",
		},
		{
			name:     "lines fallback",
			status:   http.StatusOK,
			response: `{"result":{"textAnnotation":{"blocks":[{"lines":[{"text":"Sugar"},{"text":" "}]},{"lines":[{"text":"12 g"}]}]}}}`,
			want:     "Sugar\n12 g",
		},
		{
			name:     "no annotation",
			status:   http.StatusOK,
			response: `{"result":{}}`,
			want:     "",
		},
		{
			name:     "server error",
			status:   http.StatusServiceUnavailable,
			response: `{"message":"overloaded"}`,
			wantErr:  "yandex ocr 503",
		},
		{
			name:     "bad json",
			status:   http.StatusOK,
			response: `{"result":`,
			wantErr:  "failed to decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Api-Key secret", r.Header.Get("Authorization"))
				assert.Equal(t, "folder-1", r.Header.Get("x-folder-id"))

				var req request
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "PNG", req.MimeType)
				assert.Equal(t, "page", req.Model)
				assert.Equal(t, []string{"ru", "en"}, req.LanguageCodes)
				assert.Equal(t, base64.StdEncoding.EncodeToString(img), req.Content)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			e := New(Config{
				Endpoint:  srv.URL,
				APIKey:    "secret",
				FolderID:  "folder-1",
				Languages: []string{"ru", "en"},
			}, srv.Client(), nil)

			got, err := e.Extract(context.Background(), img)
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

func TestExtractor_RejectsNonImage(t *testing.T) {
	e := New(Config{Endpoint: "http://127.0.0.1:0"}, nil, nil)

	_, err := e.Extract(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image type")
}

func TestExtractor_RejectedRequestKeepsBodyOutOfError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"api key folder-secret-42 is revoked"}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	_, err := New(Config{Endpoint: srv.URL}, srv.Client(), logger).Extract(context.Background(), testPNG(t))
	require.Error(t, err)

	assert.Equal(t, "yandex ocr 401: Unauthorized", err.Error())
	assert.Contains(t, logs.String(), "folder-secret-42")
}
