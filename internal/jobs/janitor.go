package jobs

import (
	"log/slog"
	"os"
	"time"

	"github.com/LegendarySumit/MediaDL/internal/cleanup"
	"github.com/LegendarySumit/MediaDL/internal/config"
)

// StartJanitor runs periodic disk hygiene: aged artifacts, low-space
// eviction, temp directory reset. Job records need no sweeping; their
// store TTL bounds them.
func StartJanitor(cfg *config.Config, cl *cleanup.Manager) {
	ticker := time.NewTicker(time.Hour)

	go func() {
		for range ticker.C {
			slog.Info("janitor: starting scheduled cleanup")

			removed := cl.CleanupOldFiles()
			removed += cl.CleanupIfLowSpace()

			if err := os.RemoveAll(cfg.TempDir); err != nil {
				slog.Warn("janitor: could not clear temp", "error", err)
			}
			if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
				slog.Warn("janitor: could not recreate temp", "error", err)
			}

			slog.Info("janitor: cleanup finished", "files_removed", removed)
		}
	}()
}
