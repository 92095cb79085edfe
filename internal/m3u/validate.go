package m3u

import "strings"

// errorPageMarkers are substrings that betray an error page delivered with a
// 2xx status in place of playlist content.
var errorPageMarkers = []string{
	"<html",
	"<!doctype",
	"<head",
	"error",
	"not found",
	"access denied",
	"forbidden",
	"invalid credentials",
}

// LooksLikePlaylist reports whether content qualifies as playlist text: the
// first non-blank line starts with the playlist header sentinel, or any line
// starts with an entry sentinel or an http URL.
func LooksLikePlaylist(lines []string) bool {
	firstSeen := false
	for _, raw := range lines {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}
		if !firstSeen {
			firstSeen = true
			if strings.HasPrefix(line, headerSentinel) {
				return true
			}
		}
		if strings.HasPrefix(line, entrySentinel) || strings.HasPrefix(line, "http") {
			return true
		}
	}
	return false
}

// DetectErrorPage scans the head of the content for error-page markers and
// returns the offending marker when found.
func DetectErrorPage(content string) (string, bool) {
	head := content
	if len(head) > 2048 {
		head = head[:2048]
	}
	lower := strings.ToLower(head)
	for _, marker := range errorPageMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}
