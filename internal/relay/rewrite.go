// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relay

import (
	"strings"
)

// contentPathPrefixes mark manifest lines whose upstream base address must be
// swapped for this service's public address.
var contentPathPrefixes = []string{"/ace/c/", "/ace/m/", "/content/", "/hls/"}

// RewriteManifest rewrites a playlist for client delivery: carriage returns
// are stripped, EXT-X-MEDIA alternative-rendition references are dropped
// (known to break downstream players), and content lines are re-pointed from
// the upstream base address to the public one.
func RewriteManifest(body, upstreamBase, publicBase string) string {
	upstreamBase = strings.TrimRight(upstreamBase, "/")
	publicBase = strings.TrimRight(publicBase, "/")

	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "#EXT-X-MEDIA:") && strings.Contains(line, "URI=") {
			continue
		}
		if referencesContent(line) {
			line = strings.Replace(line, upstreamBase, publicBase, 1)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func referencesContent(line string) bool {
	for _, prefix := range contentPathPrefixes {
		if strings.Contains(line, prefix) {
			return true
		}
	}
	return false
}
