package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kkdai/youtube/v2"

	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/progress"
)

// Engine fetches YouTube media in-process: separate video and audio
// streams, byte-level progress, ffmpeg mux into the destination file.
type Engine struct {
	tempDir string
}

// NewEngine creates a YouTube engine staging intermediates under tempDir.
func NewEngine(tempDir string) *Engine {
	return &Engine{tempDir: tempDir}
}

func (e *Engine) Fetch(ctx context.Context, job *models.Job, dest string, rep progress.Reporter) error {
	client := youtube.Client{}
	video, err := client.GetVideoContext(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("video info: %w", err)
	}

	if job.MediaType == models.MediaAudio {
		return e.fetchAudio(ctx, client, video, dest, rep)
	}
	return e.fetchVideo(ctx, client, video, job, dest, rep)
}

func (e *Engine) fetchAudio(ctx context.Context, client youtube.Client, video *youtube.Video, dest string, rep progress.Reporter) error {
	format := findBestAudioFormat(video.Formats)
	if format == nil {
		return fmt.Errorf("no audio format found")
	}

	total := format.ContentLength
	var done int64
	var mu sync.Mutex
	track := func(n int) {
		mu.Lock()
		defer mu.Unlock()
		done += int64(n)
		if total > 0 {
			rep.Progress(float64(done) / float64(total) * 100)
		}
	}

	if err := downloadStream(ctx, client, video, format, dest, track); err != nil {
		return err
	}
	return checkNotEmpty(dest)
}

func (e *Engine) fetchVideo(ctx context.Context, client youtube.Client, video *youtube.Video, job *models.Job, dest string, rep progress.Reporter) error {
	targetHeight := parseQuality(job.Quality)
	videoFormat := findBestVideoFormat(video.Formats, targetHeight)
	audioFormat := findBestAudioFormat(video.Formats)
	if videoFormat == nil || audioFormat == nil {
		return fmt.Errorf("requested format not available")
	}

	videoTemp := filepath.Join(e.tempDir, fmt.Sprintf("v_%s.mp4", job.JobID))
	audioTemp := filepath.Join(e.tempDir, fmt.Sprintf("a_%s.m4a", job.JobID))
	defer os.Remove(videoTemp)
	defer os.Remove(audioTemp)

	totalSize := videoFormat.ContentLength + audioFormat.ContentLength
	var currentBytes int64
	var mu sync.Mutex
	track := func(n int) {
		mu.Lock()
		defer mu.Unlock()
		currentBytes += int64(n)
		if totalSize > 0 {
			pct := float64(currentBytes) / float64(totalSize) * 100
			if pct > 99.9 {
				pct = 99.9 // hold the last tenth for muxing
			}
			rep.Progress(pct)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var errV, errA error
	go func() {
		defer wg.Done()
		errV = downloadStream(ctx, client, video, videoFormat, videoTemp, track)
	}()
	go func() {
		defer wg.Done()
		errA = downloadStream(ctx, client, video, audioFormat, audioTemp, track)
	}()
	wg.Wait()

	if errV != nil {
		return errV
	}
	if errA != nil {
		return errA
	}

	rep.Progress(99.9)
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-i", videoTemp, "-i", audioTemp, "-c", "copy", dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %s", string(out))
	}

	return checkNotEmpty(dest)
}

func checkNotEmpty(path string) error {
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return fmt.Errorf("generated file is empty")
	}
	return nil
}

// --- Helpers (Private) ---

func downloadStream(ctx context.Context, c youtube.Client, v *youtube.Video, f *youtube.Format, path string, cb func(int)) error {
	stream, _, err := c.GetStreamContext(ctx, v, f)
	if err != nil {
		return err
	}
	defer stream.Close()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return werr
			}
			cb(n)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func parseQuality(q string) int {
	if q == "4k" {
		return 2160
	}
	digits := ""
	for _, c := range q {
		if c >= '0' && c <= '9' {
			digits += string(c)
		}
	}
	if digits == "" {
		return 0
	}
	val, _ := strconv.Atoi(digits)
	return val
}

func findBestVideoFormat(formats youtube.FormatList, targetHeight int) *youtube.Format {
	var best *youtube.Format
	for _, f := range formats {
		if strings.Contains(f.MimeType, "video") {
			h := parseQuality(f.QualityLabel)
			if h == targetHeight {
				return &f
			}
			if best == nil || (h > parseQuality(best.QualityLabel) && h <= targetHeight) {
				temp := f
				best = &temp
			}
		}
	}
	if best == nil {
		for _, f := range formats {
			if strings.Contains(f.MimeType, "video") {
				if best == nil || parseQuality(f.QualityLabel) > parseQuality(best.QualityLabel) {
					temp := f
					best = &temp
				}
			}
		}
	}
	return best
}

func findBestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for _, f := range formats {
		if strings.Contains(f.MimeType, "audio") {
			if best == nil || (strings.Contains(f.MimeType, "mp4") && !strings.Contains(best.MimeType, "mp4")) {
				temp := f
				best = &temp
			}
		}
	}
	return best
}
