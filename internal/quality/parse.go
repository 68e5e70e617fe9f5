// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package quality

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var segmentSeqRe = regexp.MustCompile(`(\d+)\.ts`)

// parseManifest extracts the trailing sequence number of the last media
// segment in an HLS playlist, plus the EXTINF duration announced for it.
// ok is false when no segment line with a parsable sequence exists.
func parseManifest(manifest string) (seq int, interval time.Duration, ok bool) {
	scanner := bufio.NewScanner(strings.NewReader(manifest))

	var (
		nextDuration time.Duration
		lastSegment  string
		lastDuration time.Duration
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXTINF:") {
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			if secs, err := strconv.ParseFloat(durPart, 64); err == nil {
				nextDuration = time.Duration(secs * float64(time.Second))
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		// URI line: start of a segment.
		lastSegment = line
		lastDuration = nextDuration
		nextDuration = 0
	}

	if lastSegment == "" {
		return 0, 0, false
	}

	matches := segmentSeqRe.FindAllStringSubmatch(lastSegment, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, 0, false
	}
	return n, lastDuration, true
}
