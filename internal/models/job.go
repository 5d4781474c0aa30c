package models

import (
	"strconv"
)

// Job statuses. done, error and cancelled are terminal: a retry is a new
// record, never a mutation of a finished one.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Media types accepted by the start endpoints.
const (
	MediaVideo = "video"
	MediaAudio = "audio"
)

// Job is the persisted state of one download attempt. It is stored as a
// string-keyed Redis hash; numeric fields are parsed back leniently so
// legacy records with missing or garbled values read as zero.
type Job struct {
	JobID       string  `json:"job_id"`
	URL         string  `json:"url"`
	Platform    string  `json:"platform"`
	MediaType   string  `json:"type"`
	Format      string  `json:"format"`
	Quality     string  `json:"quality"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	FileName    string  `json:"file_name"`
	FilePath    string  `json:"file_path"`
	Error       string  `json:"error"`
	RetryCount  int     `json:"retry_count"`
	ParentJobID string  `json:"parent_job_id"`
	ChildJobID  string  `json:"child_job_id"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// IsTerminal reports whether the record's own progression is finished.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusDone || j.Status == StatusError || j.Status == StatusCancelled
}

// Fields flattens the job into the hash representation written to the store.
func (j *Job) Fields() map[string]interface{} {
	return map[string]interface{}{
		"job_id":        j.JobID,
		"url":           j.URL,
		"platform":      j.Platform,
		"type":          j.MediaType,
		"format":        j.Format,
		"quality":       j.Quality,
		"status":        j.Status,
		"progress":      j.Progress,
		"file_name":     j.FileName,
		"file_path":     j.FilePath,
		"error":         j.Error,
		"retry_count":   j.RetryCount,
		"parent_job_id": j.ParentJobID,
		"child_job_id":  j.ChildJobID,
		"created_at":    j.CreatedAt,
		"updated_at":    j.UpdatedAt,
	}
}

// JobFromHash rebuilds a job from its stored hash. Absent fields come back
// as empty strings or zeros.
func JobFromHash(h map[string]string) *Job {
	return &Job{
		JobID:       h["job_id"],
		URL:         h["url"],
		Platform:    h["platform"],
		MediaType:   h["type"],
		Format:      h["format"],
		Quality:     h["quality"],
		Status:      h["status"],
		Progress:    parseFloat(h["progress"]),
		FileName:    h["file_name"],
		FilePath:    h["file_path"],
		Error:       h["error"],
		RetryCount:  parseInt(h["retry_count"]),
		ParentJobID: h["parent_job_id"],
		ChildJobID:  h["child_job_id"],
		CreatedAt:   parseInt64(h["created_at"]),
		UpdatedAt:   parseInt64(h["updated_at"]),
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	// Tolerate values written as floats by older writers.
	v, err := strconv.Atoi(s)
	if err != nil {
		return int(parseFloat(s))
	}
	return v
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return v
}

// StartRequest carries the immutable parameters of a new download.
type StartRequest struct {
	URL       string `json:"url"`
	MediaType string `json:"type"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
}

// SemaphoreStatus is the read-only admission snapshot served to clients.
type SemaphoreStatus struct {
	Active         int      `json:"active"`
	Max            int      `json:"max"`
	AvailableSlots int      `json:"available_slots"`
	Queued         int      `json:"queued"`
	ActiveJobs     []string `json:"active_jobs"`
	QueuedJobs     []string `json:"queued_jobs"`
}

// RetryInfo describes a job's position in its retry budget and lineage.
type RetryInfo struct {
	JobID            string `json:"job_id"`
	RetryCount       int    `json:"retry_count"`
	MaxRetries       int    `json:"max_retries"`
	RetriesRemaining int    `json:"retries_remaining"`
	CanRetry         bool   `json:"can_retry"`
	ParentJobID      string `json:"parent_job_id"`
	ChildJobID       string `json:"child_job_id"`
}

// HistoryStats aggregates the recent job history.
type HistoryStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPlatform map[string]int `json:"by_platform"`
	ByType     map[string]int `json:"by_type"`
	ByFormat   map[string]int `json:"by_format"`
}
