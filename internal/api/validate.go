package api

import (
	"fmt"
	"regexp"
	"strings"
)

const maxURLLen = 2000

// Local and internal targets a download URL must never reach (SSRF).
var blockedPatterns = []string{
	"localhost",
	"127.0",
	"192.168",
	"10.0",
	"172.16",
	"0.0.0",
	"file://",
	"ftp://",
}

// Platforms the downloader supports.
var allowedDomains = []string{
	"youtube.com",
	"youtu.be",
	"instagram.com",
	"tiktok.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"vimeo.com",
	"dailymotion.com",
}

var qualityRe = regexp.MustCompile(`^[a-zA-Z0-9]+[kpbm]?$`)

// validateURL rejects empty, oversized, internal-network and
// unsupported-platform URLs.
func validateURL(url string) error {
	if url == "" {
		return fmt.Errorf("URL is required")
	}
	if len(url) > maxURLLen {
		return fmt.Errorf("URL exceeds maximum length")
	}

	lower := strings.ToLower(url)
	for _, p := range blockedPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("URL not allowed for security reasons")
		}
	}

	for _, d := range allowedDomains {
		if strings.Contains(lower, d) {
			return nil
		}
	}
	return fmt.Errorf("URL platform not supported")
}

// validateQuality keeps the quality parameter to a safe token.
func validateQuality(q string) error {
	if q == "" {
		return nil
	}
	if !qualityRe.MatchString(q) {
		return fmt.Errorf("invalid quality parameter")
	}
	return nil
}
