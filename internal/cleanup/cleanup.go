// Package cleanup manages disk hygiene for the download directory.
//
// Deletion is defensive: a path is only ever removed when it resolves to a
// regular file inside the configured download directory, regardless of how
// the record's file_path was populated.
package cleanup

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Manager deletes stale or oversized download artifacts.
type Manager struct {
	downloadDir string
	maxAge      time.Duration
	minFreeGB   float64
}

// New creates a cleanup manager for downloadDir. maxAge bounds artifact
// lifetime; minFreeGB triggers size-based eviction.
func New(downloadDir string, maxAge time.Duration, minFreeGB float64) *Manager {
	return &Manager{downloadDir: downloadDir, maxAge: maxAge, minFreeGB: minFreeGB}
}

// SafeDeleteFile deletes path if, after normalization, it is a regular
// file inside the download directory. Returns true when the file is gone
// (deleted or already absent), false on rejection or failure.
func (m *Manager) SafeDeleteFile(path string) bool {
	if path == "" {
		return true
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true // already gone
	}

	if !m.inDownloadDir(path) {
		slog.Warn("blocked delete outside download dir", "path", path)
		return false
	}

	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	if err := os.Remove(path); err != nil {
		slog.Warn("delete failed", "path", path, "error", err)
		return false
	}
	return true
}

// InsideDownloads reports whether path, after normalization, resolves to
// somewhere inside the download directory.
func (m *Manager) InsideDownloads(path string) bool {
	return m.inDownloadDir(path)
}

func (m *Manager) inDownloadDir(path string) bool {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(m.downloadDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CleanupOldFiles removes artifacts older than the configured age.
// Returns the number of files removed.
func (m *Manager) CleanupOldFiles() int {
	cutoff := time.Now().Add(-m.maxAge)
	removed := 0

	entries, err := os.ReadDir(m.downloadDir)
	if err != nil {
		slog.Warn("cleanup scan failed", "dir", m.downloadDir, "error", err)
		return 0
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if m.SafeDeleteFile(filepath.Join(m.downloadDir, e.Name())) {
				removed++
			}
		}
	}
	if removed > 0 {
		slog.Info("cleanup removed old files", "count", removed)
	}
	return removed
}

// CleanupIfLowSpace evicts the oldest artifacts until free disk space
// rises above the configured floor. Returns the number of files removed.
func (m *Manager) CleanupIfLowSpace() int {
	free, _, err := m.DiskSpace()
	if err != nil {
		slog.Warn("disk stat failed", "error", err)
		return 0
	}
	floor := uint64(m.minFreeGB * float64(1<<30))
	if free >= floor {
		return 0
	}

	entries, err := os.ReadDir(m.downloadDir)
	if err != nil {
		return 0
	}
	type candidate struct {
		path string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(m.downloadDir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	removed := 0
	for _, f := range files {
		free, _, err = m.DiskSpace()
		if err != nil || free >= floor {
			break
		}
		if m.SafeDeleteFile(f.path) {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("cleanup freed disk space", "count", removed)
	}
	return removed
}

// DiskSpace returns free and total bytes of the filesystem holding the
// download directory.
func (m *Manager) DiskSpace() (free, total uint64, err error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(m.downloadDir, &fs); err != nil {
		return 0, 0, err
	}
	return fs.Bavail * uint64(fs.Bsize), fs.Blocks * uint64(fs.Bsize), nil
}
