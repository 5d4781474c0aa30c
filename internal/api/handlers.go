package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/LegendarySumit/MediaDL/internal/cleanup"
	"github.com/LegendarySumit/MediaDL/internal/config"
	"github.com/LegendarySumit/MediaDL/internal/jobs"
	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/retry"
	"github.com/LegendarySumit/MediaDL/internal/semaphore"
	"github.com/LegendarySumit/MediaDL/internal/store"
	"github.com/LegendarySumit/MediaDL/internal/stream"
	"github.com/LegendarySumit/MediaDL/internal/ws"
)

// Handler serves every HTTP route of the download server.
type Handler struct {
	Cfg        *config.Config
	Store      *store.Store
	Sem        *semaphore.Semaphore
	Retries    *retry.Manager
	Orch       *jobs.Orchestrator
	Subscriber *stream.Subscriber
	Cleaner    *cleanup.Manager
	Hub        *ws.Hub
}

// NewHandler wires the handler from its collaborators.
func NewHandler(cfg *config.Config, st *store.Store, sem *semaphore.Semaphore, retries *retry.Manager,
	orch *jobs.Orchestrator, sub *stream.Subscriber, cleaner *cleanup.Manager, hub *ws.Hub) *Handler {
	return &Handler{
		Cfg:        cfg,
		Store:      st,
		Sem:        sem,
		Retries:    retries,
		Orch:       orch,
		Subscriber: sub,
		Cleaner:    cleaner,
		Hub:        hub,
	}
}

// StartVideo starts a video download in the background.
func (h *Handler) StartVideo(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, models.MediaVideo, "mp4")
}

// StartAudio starts an audio download in the background.
func (h *Handler) StartAudio(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, models.MediaAudio, "webm")
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, mediaType, defaultFormat string) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateURL(req.URL); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateQuality(req.Quality); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.MediaType = mediaType
	if req.Format == "" {
		req.Format = defaultFormat
	}

	job, err := h.Orch.Start(r.Context(), req)
	if errors.Is(err, jobs.ErrAtCapacity) {
		jsonError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		slog.Error("start request failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"job_id":       job.JobID,
		"status":       job.Status,
		"stream_url":   fmt.Sprintf("/progress/%s", job.JobID),
		"download_url": fmt.Sprintf("/download/%s", job.JobID),
	})
}

// Progress streams job state changes as server-sent events until the job
// reaches a terminal state or the hard time ceiling elapses.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	send := func(payload string) error {
		if _, err := fmt.Fprintf(w, "data:%s\n\n", payload); err != nil {
			return err
		}
		return rc.Flush()
	}

	h.Subscriber.Stream(r.Context(), jobID, send)
}

// Download serves the finished artifact.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.Store.Get(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job.Status != models.StatusDone || job.FilePath == "" {
		jsonError(w, http.StatusBadRequest, "file not ready")
		return
	}
	if !h.Cleaner.InsideDownloads(job.FilePath) {
		slog.Warn("blocked path traversal attempt", "job_id", jobID, "path", job.FilePath)
		jsonError(w, http.StatusForbidden, "access denied")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(job.FilePath)))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, job.FilePath)
}

// DeleteJob removes a job record and its artifact. Running jobs and files
// outside the download directory are refused.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.Store.Get(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job.Status == models.StatusRunning {
		jsonError(w, http.StatusConflict, "cannot delete a running job")
		return
	}
	if job.FilePath != "" && !h.Cleaner.InsideDownloads(job.FilePath) {
		slog.Warn("blocked delete outside download dir", "job_id", jobID, "path", job.FilePath)
		jsonError(w, http.StatusForbidden, "file path outside download directory")
		return
	}

	if job.FilePath != "" {
		// Best effort: a failed file delete is logged, not fatal.
		h.Cleaner.SafeDeleteFile(job.FilePath)
	}
	if err := h.Store.Delete(r.Context(), jobID); err != nil && !errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("job deleted", "job_id", jobID)
	writeJSON(w, map[string]string{"status": "deleted", "job_id": jobID})
}

// SemaphoreStatus reports the admission snapshot.
func (h *Handler) SemaphoreStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Sem.Status(r.Context())
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, status)
}

// RetryInfo reports a job's retry budget and lineage.
func (h *Handler) RetryInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Retries.Info(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, info)
}

// RetryChain lists the full lineage of a job, oldest first.
func (h *Handler) RetryChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.Retries.Chain(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, map[string]interface{}{"chain": chain})
}

// CreateRetry spawns a follow-up job for a failed one and starts it.
func (h *Handler) CreateRetry(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	newID, err := h.Retries.CreateRetry(r.Context(), jobID, nil)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, retry.ErrAlreadyRetried):
		jsonError(w, http.StatusConflict, "job already has a retry")
		return
	case errors.Is(err, retry.ErrRetryExhausted):
		jsonError(w, http.StatusBadRequest, "job cannot be retried")
		return
	case err != nil:
		slog.Error("retry failed", "job_id", jobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.Orch.Run(newID); err != nil {
		slog.Error("retry dispatch failed", "job_id", newID, "error", err)
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"job_id":        newID,
		"parent_job_id": jobID,
		"stream_url":    fmt.Sprintf("/progress/%s", newID),
	})
}

// History lists recent jobs, optionally filtered by status or platform.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	var (
		list []*models.Job
		err  error
	)
	switch {
	case r.URL.Query().Get("status") != "":
		list, err = h.Store.ByStatus(r.Context(), r.URL.Query().Get("status"), limit)
	case r.URL.Query().Get("platform") != "":
		list, err = h.Store.ByPlatform(r.Context(), r.URL.Query().Get("platform"), limit)
	default:
		list, err = h.Store.ListRecent(r.Context(), limit)
	}
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, map[string]interface{}{"jobs": list, "count": len(list)})
}

// HistoryStats aggregates the recent history.
func (h *Handler) HistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, stats)
}

// Health reports store reachability and disk headroom.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	redisStatus := "ok"
	if err := h.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		redisStatus = err.Error()
	}

	body := map[string]interface{}{
		"status":    status,
		"redis":     redisStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"config": map[string]interface{}{
			"max_concurrent_downloads": h.Cfg.MaxConcurrentDownloads,
			"max_queue_size":           h.Cfg.MaxQueueSize,
			"max_retries":              h.Cfg.MaxRetries,
		},
	}
	if free, total, err := h.Cleaner.DiskSpace(); err == nil {
		body["storage"] = map[string]interface{}{
			"total_gb": round2(float64(total) / (1 << 30)),
			"free_gb":  round2(float64(free) / (1 << 30)),
		}
	}

	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, body)
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func jsonError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
