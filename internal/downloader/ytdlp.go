package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/progress"
)

// YTDLP shells out to the yt-dlp binary for platforms the in-process
// engine does not cover. Progress is parsed from yt-dlp's --newline
// output.
type YTDLP struct{}

// NewYTDLP creates the exec-based engine.
func NewYTDLP() *YTDLP {
	return &YTDLP{}
}

// CheckDependency reports whether yt-dlp is on PATH.
func (y *YTDLP) CheckDependency() error {
	if _, err := exec.LookPath("yt-dlp"); err != nil {
		return fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	return nil
}

var downloadPctRe = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

func (y *YTDLP) Fetch(ctx context.Context, job *models.Job, dest string, rep progress.Reporter) error {
	args := []string{
		"--newline",
		"--no-playlist",
		"-o", dest,
	}
	if job.MediaType == models.MediaAudio {
		args = append(args, "-f", "bestaudio")
	} else if h := parseQuality(job.Quality); h > 0 {
		args = append(args, "-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", h, h))
	}
	args = append(args, job.URL)

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("yt-dlp pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("yt-dlp start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if m := downloadPctRe.FindStringSubmatch(scanner.Text()); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				rep.Progress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 300 {
			detail = detail[len(detail)-300:]
		}
		return fmt.Errorf("yt-dlp failed: %w: %s", err, detail)
	}
	return nil
}
