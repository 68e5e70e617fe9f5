// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package contentid validates and normalizes AceStream content identifiers.
//
// A content identifier is the 40 character hex digest (content hash or
// infohash) the engine uses to address a stream. Identifiers are validated at
// every boundary so malformed values never reach the pool or the quality map.
package contentid

import (
	"errors"
	"fmt"
	"strings"
)

// Length is the exact number of hex characters in a content identifier.
const Length = 40

// ErrInvalid is returned for any string that is not a 40 character hex digest.
var ErrInvalid = errors.New("contentid: invalid content identifier")

// Normalize validates raw and returns its canonical lowercase form.
// Uppercase hex digits are accepted and folded; anything else fails.
func Normalize(raw string) (string, error) {
	if len(raw) != Length {
		return "", fmt.Errorf("%w: length %d, want %d", ErrInvalid, len(raw), Length)
	}
	id := strings.ToLower(raw)
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: non-hex character at position %d", ErrInvalid, i)
		}
	}
	return id, nil
}

// Valid reports whether raw is a well formed content identifier.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}
