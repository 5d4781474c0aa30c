// Package errmsg maps raw downloader and ffmpeg errors to short
// human-readable messages and a severity class used for triage.
package errmsg

import (
	"strings"
)

// Severity classes, for alerting only. Never used for control flow.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

type translation struct {
	pattern string
	text    string
}

// Ordered: more specific patterns must come before substrings of themselves
// (e.g. "read timed out" before "timeout").
var knownErrors = []translation{
	{"requested format not available", "The requested quality is not available for this video. Try a different quality."},
	{"no video formats found", "Could not find any downloadable formats for this video."},
	{"unable to download video data", "Failed to download video data. The video may be private, deleted, or geoblocked."},
	{"video unavailable", "This video is no longer available."},
	{"cipher", "The platform restricted access to this video (signature error)."},
	{"signature", "The platform restricted access to this video (signature error)."},
	{"http error 403", "Access denied. The video may be restricted in your region."},
	{"http error 404", "Video not found (404)."},
	{"status code: 403", "Access denied. The video may be restricted in your region."},
	{"no space left", "Disk space exhausted. Cannot complete download."},
	{"disk i/o error", "Disk input/output error. Check your disk health."},
	{"permission denied", "Permission denied accessing the file. Check disk permissions."},
	{"out of memory", "Ran out of memory during conversion. Close other apps and try again."},
	{"invalid data found", "The downloaded file is corrupted. Try downloading again."},
	{"unknown encoder", "Audio/video codec not installed. Check FFmpeg installation."},
	{"connection refused", "Could not connect to the server. Check your internet connection."},
	{"read timed out", "Download took too long. Try again with a smaller video or different quality."},
	{"timeout", "Connection timed out. Try again or check your internet speed."},
	{"invalid url", "The URL is not valid. Please check and try again."},
	{"certificate", "Certificate verification failed. Check your network settings."},
	{"ssl", "SSL/certificate error. Your internet may be blocking the connection."},
	{"proxy", "Proxy connection error. Check proxy settings."},
	{"connection", "Connection error. Check your internet and try again."},
	{"network", "Network error. Check your internet connection."},
}

const maxMessageLen = 200

// Normalize converts a raw error message into human-readable text.
func Normalize(raw string) string {
	if raw == "" {
		return "Unknown error occurred. Please try again."
	}

	lower := strings.ToLower(raw)

	for _, t := range knownErrors {
		if strings.Contains(lower, t.pattern) {
			return t.text
		}
	}

	// No known cause: keep the raw message but trim prefixes and length.
	msg := raw
	if idx := strings.Index(lower, "error:"); idx >= 0 {
		msg = strings.TrimSpace(msg[idx+len("error:"):])
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	if msg == "" {
		return "An error occurred. Please try again."
	}
	if r := msg[0]; r >= 'a' && r <= 'z' {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	if !strings.HasSuffix(msg, ".") {
		msg += "."
	}
	return msg
}

// Severity classifies an error message as critical, high, medium or low.
func Severity(msg string) string {
	lower := strings.ToLower(msg)

	for _, w := range []string{"disk", "permission", "out of memory"} {
		if strings.Contains(lower, w) {
			return SeverityCritical
		}
	}
	for _, w := range []string{"network", "connection refused", "timeout", "ssl"} {
		if strings.Contains(lower, w) {
			return SeverityHigh
		}
	}
	for _, w := range []string{"format", "unavailable", "http error", "invalid"} {
		if strings.Contains(lower, w) {
			return SeverityMedium
		}
	}
	return SeverityLow
}
