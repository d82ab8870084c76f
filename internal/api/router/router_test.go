package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/labelscan/internal/api/dto"
	"github.com/cuongbtq/labelscan/internal/api/handler"
	"github.com/cuongbtq/labelscan/internal/broker"
	"github.com/cuongbtq/labelscan/internal/cache"
	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/internal/fingerprint"
	"github.com/cuongbtq/labelscan/internal/status"
	"github.com/cuongbtq/labelscan/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const maxUpload = 4096

type apiFixture struct {
	cache   *cache.Memory
	tracker *status.Memory
	broker  *broker.Memory
	deps    *handler.Dependencies
	router  *gin.Engine
}

func newAPIFixture(t *testing.T, mutate func(d *handler.Dependencies)) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &apiFixture{
		cache:   cache.NewMemory(),
		tracker: status.NewMemory(),
		broker:  broker.NewMemory(),
	}
	t.Cleanup(func() { _ = f.broker.Close() })

	coord := submission.New(f.cache, f.tracker, f.broker, nil, submission.Config{
		MaxUploadBytes:    maxUpload,
		AllowedExtensions: []string{"png", "jpg", "jpeg", "gif"},
		AllowedMIMETypes:  []string{"image/png", "image/jpeg", "image/gif"},
	}, logger)

	f.deps = &handler.Dependencies{
		Logger:         logger,
		ServiceName:    "labelscan-api",
		Coordinator:    coord,
		MaxUploadBytes: maxUpload,
	}
	if mutate != nil {
		mutate(f.deps)
	}
	f.router = SetupRouter(f.deps)
	return f
}

func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.Pix[0] = seed

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSubmit_QueuesThenPolls(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(uploadRequest(t, "/api/v1/analyses", "file", "label.png", pngBytes(t, 1)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[dto.SubmitResponse](t, rec)
	assert.False(t, resp.Cached)
	assert.Equal(t, dto.StatusProcessing, resp.Status)
	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, 1, f.broker.Len())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+resp.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	job := decode[dto.JobDTO](t, rec)
	assert.Equal(t, resp.JobID, job.JobID)
	assert.Equal(t, string(domain.JobStatusPending), job.Status)
	assert.Equal(t, resp.Fingerprint, job.Fingerprint)
}

func TestSubmit_CachedResult(t *testing.T) {
	f := newAPIFixture(t, nil)
	content := pngBytes(t, 2)
	require.NoError(t, f.cache.Set(context.Background(), fingerprint.Sum(content), json.RawMessage(`{"verdict":false}`)))

	for _, path := range []string{"/api/v1/analyses", "/upload"} {
		rec := f.do(uploadRequest(t, path, "file", "label.jpg", content))
		require.Equal(t, http.StatusOK, rec.Code, path)

		resp := decode[dto.SubmitResponse](t, rec)
		assert.True(t, resp.Cached)
		assert.Empty(t, resp.JobID)
		assert.JSONEq(t, `{"verdict":false}`, string(resp.Result))
	}

	assert.Zero(t, f.broker.Len())
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		field     string
		filename  string
		content   []byte
		errString string
	}{
		{name: "missing file field", field: "image", filename: "label.png", content: []byte{1}, errString: "file is required"},
		{name: "extension not allowed", field: "file", filename: "label.pdf", content: []byte("%PDF-1.7"), errString: "not allowed"},
		{name: "not an image", field: "file", filename: "label.png", content: []byte("plain text pretending"), errString: "unsupported content type"},
		{name: "empty file", field: "file", filename: "label.png", content: nil, errString: "content is empty"},
		{name: "too large", field: "file", filename: "label.png", content: make([]byte, maxUpload+1), errString: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, nil)

			rec := f.do(uploadRequest(t, "/api/v1/analyses", tt.field, tt.filename, tt.content))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decode[dto.ErrorResponse](t, rec).Error, tt.errString)
			assert.Zero(t, f.broker.Len())
		})
	}
}

type unavailableCoordinator struct {
	handler.Coordinator
}

func (unavailableCoordinator) CheckFilename(name string) error { return nil }

func (unavailableCoordinator) Submit(ctx context.Context, r io.Reader) (*submission.Outcome, error) {
	return nil, domain.NewInfrastructureError("cache lookup", errors.New("dial tcp 10.0.0.5:6379: connect: connection refused"))
}

func TestSubmit_InfrastructureError(t *testing.T) {
	f := newAPIFixture(t, func(d *handler.Dependencies) {
		d.Coordinator = unavailableCoordinator{}
	})

	rec := f.do(uploadRequest(t, "/api/v1/analyses", "file", "label.png", pngBytes(t, 3)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5", "internal detail must not leak")
}

func TestSubmit_RateLimited(t *testing.T) {
	f := newAPIFixture(t, func(d *handler.Dependencies) {
		d.RateLimit = 0.001
		d.RateBurst = 1
	})

	rec := f.do(uploadRequest(t, "/api/v1/analyses", "file", "a.png", pngBytes(t, 4)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(uploadRequest(t, "/api/v1/analyses", "file", "b.png", pngBytes(t, 5)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Polling is never limited.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	doneID := "3d9a7c1e-0f4b-4a6e-8c2d-5e7f9a1b3c5d"
	require.NoError(t, f.tracker.Create(ctx, doneID, fingerprint.Sum([]byte("x"))))
	require.NoError(t, f.tracker.MarkRunning(ctx, doneID, 1))
	require.NoError(t, f.tracker.MarkFailure(ctx, doneID, "classification failed after 4 attempts: status 502"))

	tests := []struct {
		name     string
		jobID    string
		wantCode int
	}{
		{name: "not a uuid", jobID: "job-1", wantCode: http.StatusBadRequest},
		{name: "unknown job", jobID: "7c1e2d3f-4a5b-4c6d-8e7f-9a0b1c2d3e4f", wantCode: http.StatusNotFound},
		{name: "failed job", jobID: doneID, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+tt.jobID, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+doneID, nil))
	job := decode[dto.JobDTO](t, rec)
	assert.Equal(t, string(domain.JobStatusFailure), job.Status)
	assert.Equal(t, "classification failed after 4 attempts: status 502", job.Error)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.Result)
}

func TestListJobs_Pagination(t *testing.T) {
	f := newAPIFixture(t, nil)

	for i := uint8(0); i < 5; i++ {
		rec := f.do(uploadRequest(t, "/api/v1/analyses", "file", "label.png", pngBytes(t, 10+i)))
		require.Equal(t, http.StatusAccepted, rec.Code)
		time.Sleep(time.Millisecond)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		url := "/api/v1/analyses?page_size=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		rec := f.do(httptest.NewRequest(http.MethodGet, url, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		page := decode[dto.ListJobsResponse](t, rec)
		assert.LessOrEqual(t, len(page.Jobs), 2)
		for _, job := range page.Jobs {
			assert.False(t, seen[job.JobID], "job listed twice")
			seen[job.JobID] = true
		}

		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 10)
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestListJobs_BadParameters(t *testing.T) {
	f := newAPIFixture(t, nil)

	for _, url := range []string{
		"/api/v1/analyses?status=DONE",
		"/api/v1/analyses?cursor=not-a-cursor!",
		"/api/v1/analyses?page_size=many",
	} {
		rec := f.do(httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, func(d *handler.Dependencies) {
		d.HealthChecks = map[string]handler.HealthCheck{
			"cache":  func(ctx context.Context) error { return nil },
			"broker": func(ctx context.Context) error { return errors.New("not connected to RabbitMQ") },
		}
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[dto.HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "labelscan-api", resp.Service)
	assert.Equal(t, "ok", resp.Checks["cache"])
	assert.Equal(t, "not connected to RabbitMQ", resp.Checks["broker"])

	healthy := newAPIFixture(t, nil)
	rec = healthy.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
