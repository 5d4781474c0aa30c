package downloader

import "strings"

// DetectPlatform guesses the platform from a URL.
func DetectPlatform(url string) string {
	u := strings.ToLower(url)

	switch {
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return "youtube"
	case strings.Contains(u, "instagram.com"):
		return "instagram"
	case strings.Contains(u, "tiktok.com"):
		return "tiktok"
	case strings.Contains(u, "twitter.com"), strings.Contains(u, "x.com"):
		return "twitter"
	case strings.Contains(u, "facebook.com"), strings.Contains(u, "fb.watch"):
		return "facebook"
	case strings.Contains(u, "vimeo.com"):
		return "vimeo"
	case strings.Contains(u, "dailymotion.com"):
		return "dailymotion"
	default:
		return "unknown"
	}
}
