package downloader

import (
	"context"

	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/progress"
)

// Fetcher downloads one job's media to dest, streaming its life cycle
// through the reporter. Implementations must write the output to dest
// exactly, so the orchestrator can locate artifacts by job id instead of
// guessing from directory listings.
type Fetcher interface {
	Fetch(ctx context.Context, job *models.Job, dest string, rep progress.Reporter) error
}

// Selector picks the fetch engine for a job's platform.
type Selector struct {
	youtube Fetcher
	generic Fetcher
}

// NewSelector wires the YouTube engine and the yt-dlp engine for
// everything else.
func NewSelector(tempDir string) *Selector {
	return &Selector{
		youtube: NewEngine(tempDir),
		generic: NewYTDLP(),
	}
}

// For returns the engine serving the given platform.
func (s *Selector) For(platform string) Fetcher {
	if platform == "youtube" {
		return s.youtube
	}
	return s.generic
}
