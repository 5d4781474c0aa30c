package errmsg

import (
	"strings"
	"testing"
)

func TestNormalizeKnownErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "format not available",
			raw:  "ERROR: Requested format not available. Use --list-formats",
			want: "The requested quality is not available for this video. Try a different quality.",
		},
		{
			name: "video unavailable",
			raw:  "ERROR: Video unavailable",
			want: "This video is no longer available.",
		},
		{
			name: "http 403",
			raw:  "urllib.error.HTTPError: HTTP Error 403: Forbidden",
			want: "Access denied. The video may be restricted in your region.",
		},
		{
			name: "read timed out beats generic timeout",
			raw:  "socket.timeout: The read operation read timed out",
			want: "Download took too long. Try again with a smaller video or different quality.",
		},
		{
			name: "generic timeout",
			raw:  "connect timeout after 30s",
			want: "Connection timed out. Try again or check your internet speed.",
		},
		{
			name: "disk full",
			raw:  "OSError: [Errno 28] No space left on device",
			want: "Disk space exhausted. Cannot complete download.",
		},
		{
			name: "cipher",
			raw:  "unable to extract cipher manifest",
			want: "The platform restricted access to this video (signature error).",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeUnknownErrors(t *testing.T) {
	if got := Normalize(""); got != "Unknown error occurred. Please try again." {
		t.Errorf("empty message: got %q", got)
	}

	// Unknown causes keep the raw text, minus the "error:" prefix, with a
	// capital letter and a trailing period.
	if got := Normalize("error: something odd happened"); got != "Something odd happened." {
		t.Errorf("prefix trim: got %q", got)
	}
	if got := Normalize("Already ends with a period."); got != "Already ends with a period." {
		t.Errorf("period preserved: got %q", got)
	}

	long := strings.Repeat("x", 500)
	if got := Normalize(long); len(got) > 201 {
		t.Errorf("long message not capped: len=%d", len(got))
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"Disk space exhausted. Cannot complete download.", SeverityCritical},
		{"Permission denied accessing the file. Check disk permissions.", SeverityCritical},
		{"Network error. Check your internet connection.", SeverityHigh},
		{"Connection timed out. Try again or check your internet speed.", SeverityHigh},
		{"The requested quality is not available for this video. Try a different quality.", SeverityMedium},
		{"This video is no longer available.", SeverityMedium},
		{"Something odd happened.", SeverityLow},
	}
	for _, tc := range tests {
		if got := Severity(tc.msg); got != tc.want {
			t.Errorf("Severity(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}
