package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegendarySumit/MediaDL/internal/cleanup"
	"github.com/LegendarySumit/MediaDL/internal/config"
	"github.com/LegendarySumit/MediaDL/internal/downloader"
	"github.com/LegendarySumit/MediaDL/internal/jobs"
	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/progress"
	"github.com/LegendarySumit/MediaDL/internal/retry"
	"github.com/LegendarySumit/MediaDL/internal/semaphore"
	"github.com/LegendarySumit/MediaDL/internal/store"
	"github.com/LegendarySumit/MediaDL/internal/stream"
	"github.com/LegendarySumit/MediaDL/internal/ws"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, job *models.Job, dest string, rep progress.Reporter) error {
	if err := os.WriteFile(dest, []byte("media"), 0o644); err != nil {
		return err
	}
	rep.Progress(100)
	return nil
}

type stubSelector struct{}

func (stubSelector) For(string) downloader.Fetcher { return stubFetcher{} }

type testEnv struct {
	router http.Handler
	h      *Handler
	st     *store.Store
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})

	cfg := &config.Config{
		DownloadDir:            t.TempDir(),
		TempDir:                t.TempDir(),
		MaxConcurrentDownloads: 2,
		MaxQueueSize:           50,
		MaxRetries:             3,
		AcquireTimeout:         2 * time.Second,
		StreamPollInterval:     time.Millisecond,
		StreamMaxDuration:      time.Second,
		StallTicks:             5,
		AllowedOrigins:         "*",
	}

	st := store.New(rdb, 24*time.Hour)
	sem := semaphore.New(rdb, cfg.MaxConcurrentDownloads, cfg.MaxQueueSize)
	sem.SetRetryInterval(5 * time.Millisecond)
	hub := ws.New(st, sem)
	orch := jobs.New(cfg, st, sem, stubSelector{}, hub.Broadcast)
	retries := retry.New(st, cfg.MaxRetries)
	sub := stream.New(st, cfg.StreamPollInterval, cfg.StreamMaxDuration, cfg.StallTicks)
	cleaner := cleanup.New(cfg.DownloadDir, 7*24*time.Hour, 0)

	h := NewHandler(cfg, st, sem, retries, orch, sub, cleaner, hub)
	return &testEnv{router: NewRouter(h), h: h, st: st, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *testEnv) waitForStatus(t *testing.T, jobID, want string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.st.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestStartVideo(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/start/video", `{"url":"https://www.youtube.com/watch?v=abc","quality":"720"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "/progress/"+jobID, body["stream_url"])
	assert.Equal(t, "/download/"+jobID, body["download_url"])

	job := e.waitForStatus(t, jobID, models.StatusDone)
	assert.Equal(t, models.MediaVideo, job.MediaType)
	assert.Equal(t, "mp4", job.Format)
}

func TestStartAudioDefaultsFormat(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/start/audio", `{"url":"https://youtu.be/abc"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobID := decode(t, rec)["job_id"].(string)
	job := e.waitForStatus(t, jobID, models.StatusDone)
	assert.Equal(t, models.MediaAudio, job.MediaType)
	assert.Equal(t, "webm", job.Format)
}

func TestStartRejectsBadRequests(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"url":`},
		{"missing url", `{}`},
		{"internal target", `{"url":"http://localhost/admin"}`},
		{"unsupported platform", `{"url":"https://example.com/clip.mp4"}`},
		{"bad quality", `{"url":"https://youtube.com/watch?v=abc","quality":"720p; rm -rf /"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, "POST", "/start/video", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartBackpressureReturns503(t *testing.T) {
	e := newTestEnv(t)
	// A zero-capacity queue refuses every admission.
	e.h.Sem = semaphore.New(redisFrom(t), 1, 0)
	e.h.Orch = jobs.New(e.cfg, e.st, e.h.Sem, stubSelector{}, nil)
	router := NewRouter(e.h)

	req := httptest.NewRequest("POST", "/start/video", strings.NewReader(`{"url":"https://youtube.com/watch?v=abc"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func redisFrom(t *testing.T) *redis.Client {
	t.Helper()
	m := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: m.Addr()})
}

func TestProgressStreamsUntilDone(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	job := &models.Job{
		URL:      "https://youtube.com/watch?v=abc",
		Status:   models.StatusDone,
		Progress: 100,
		FileName: "video_abc.mp4",
	}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "GET", "/progress/"+job.JobID, "")
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data:100.0|video_abc.mp4\n\n")
}

func TestProgressUnknownJob(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "GET", "/progress/ghost", "")
	assert.Contains(t, rec.Body.String(), "data:ERROR:Job not found\n\n")
}

func TestDownload(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(e.cfg.DownloadDir, "video_j1.mp4")
	require.NoError(t, os.WriteFile(path, []byte("media-bytes"), 0o644))

	job := &models.Job{
		URL:      "https://youtube.com/watch?v=abc",
		Status:   models.StatusDone,
		FileName: "video_j1.mp4",
		FilePath: path,
	}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "GET", "/download/"+job.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "video_j1.mp4")
	assert.Equal(t, "media-bytes", rec.Body.String())
}

func TestDownloadNotReady(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	job := &models.Job{URL: "https://youtube.com/watch?v=abc", Status: models.StatusRunning}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "GET", "/download/"+job.JobID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "GET", "/download/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadRejectsOutsidePath(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	job := &models.Job{
		URL:      "https://youtube.com/watch?v=abc",
		Status:   models.StatusDone,
		FilePath: "/etc/passwd",
	}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "GET", "/download/"+job.JobID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteJob(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(e.cfg.DownloadDir, "video_j2.mp4")
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))

	job := &models.Job{URL: "https://youtube.com/watch?v=abc", Status: models.StatusDone, FilePath: path}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "DELETE", "/api/job/"+job.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := e.st.Get(ctx, job.JobID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteJobRefusesRunning(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	job := &models.Job{URL: "https://youtube.com/watch?v=abc", Status: models.StatusRunning}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "DELETE", "/api/job/"+job.JobID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The record survives.
	_, err := e.st.Get(ctx, job.JobID)
	assert.NoError(t, err)
}

func TestDeleteJobRefusesOutsidePath(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	job := &models.Job{URL: "https://youtube.com/watch?v=abc", Status: models.StatusDone, FilePath: "/etc/hosts"}
	require.NoError(t, e.st.Create(ctx, job))

	rec := e.do(t, "DELETE", "/api/job/"+job.JobID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err := os.Stat("/etc/hosts")
	assert.NoError(t, err)
}

func TestDeleteJobNotFound(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "DELETE", "/api/job/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSemaphoreStatusEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "GET", "/api/semaphore", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 2, body["max"])
	assert.EqualValues(t, 0, body["active"])
	assert.EqualValues(t, 2, body["available_slots"])
}

func TestRetryEndpoints(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	failed := &models.Job{
		URL:       "https://youtube.com/watch?v=abc",
		Platform:  "youtube",
		MediaType: models.MediaVideo,
		Format:    "mp4",
		Status:    models.StatusError,
		Error:     "boom",
	}
	require.NoError(t, e.st.Create(ctx, failed))

	rec := e.do(t, "GET", "/api/retry/"+failed.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, true, info["can_retry"])

	rec = e.do(t, "POST", "/api/retry/"+failed.JobID, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	newID := decode(t, rec)["job_id"].(string)
	require.NotEmpty(t, newID)

	// The retry actually runs.
	e.waitForStatus(t, newID, models.StatusDone)

	// A second retry on the same parent is refused.
	rec = e.do(t, "POST", "/api/retry/"+failed.JobID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, "GET", "/api/retry/"+failed.JobID+"/chain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	chain := decode(t, rec)["chain"].([]interface{})
	require.Len(t, chain, 2)
	assert.Equal(t, failed.JobID, chain[0])
	assert.Equal(t, newID, chain[1])
}

func TestRetryEndpointsNotFound(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/api/retry/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", "/api/retry/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/api/retry/ghost/chain", "").Code)
}

func TestRetryRefusedForDoneJob(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	done := &models.Job{URL: "https://youtube.com/watch?v=abc", Status: models.StatusDone}
	require.NoError(t, e.st.Create(ctx, done))

	rec := e.do(t, "POST", "/api/retry/"+done.JobID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for _, status := range []string{models.StatusDone, models.StatusError, models.StatusDone} {
		job := &models.Job{URL: "https://youtube.com/watch?v=abc", Platform: "youtube", Status: status}
		require.NoError(t, e.st.Create(ctx, job))
	}

	rec := e.do(t, "GET", "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["count"])

	rec = e.do(t, "GET", "/api/history?status=done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = e.do(t, "GET", "/api/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestHistoryStatsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, e.st.Create(ctx, &models.Job{Platform: "youtube", Status: models.StatusDone}))

	rec := e.do(t, "GET", "/api/history/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["redis"])
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/start/video", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.AllowedOrigins = "https://app.example.com"
	router := NewRouter(e.h)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://www.youtube.com/watch?v=abc",
		"https://youtu.be/abc",
		"https://vimeo.com/12345",
	}
	for _, u := range valid {
		assert.NoError(t, validateURL(u), u)
	}

	invalid := []string{
		"",
		"http://localhost:8080/x",
		"http://127.0.0.1/x",
		"http://192.168.1.5/x",
		"file:///etc/passwd",
		"https://example.com/video.mp4",
		"https://youtube.com/" + strings.Repeat("a", maxURLLen),
	}
	for _, u := range invalid {
		assert.Error(t, validateURL(u), u)
	}
}

func TestValidateQuality(t *testing.T) {
	for _, q := range []string{"", "720", "720p", "1080p", "4k", "best"} {
		assert.NoError(t, validateQuality(q), q)
	}
	for _, q := range []string{"720p; rm -rf /", "../../etc", "a b"} {
		assert.Error(t, validateQuality(q), q)
	}
}
