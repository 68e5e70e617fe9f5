// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package quality derives a rolling reliability score per content identifier
// from observed playlist delivery. A stream earns points when its segment
// sequence advances, loses points when it stalls or fails to deliver a
// manifest at all, and the resulting score is persisted after every update.
package quality

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/log"
	"github.com/ManuGH/ace2g/internal/metrics"
)

const (
	// MinQuality and MaxQuality bound the score range.
	MinQuality = 0
	MaxQuality = 99

	// QualityOnFirstSuccess floors the score of any stream that has ever
	// delivered a segment, so a working stream never ranks as fully unknown.
	QualityOnFirstSuccess = 20

	// newStreamSeqThreshold separates freshly started streams from
	// established ones when penalizing a stall.
	newStreamSeqThreshold = 20

	// maxProgressReward caps the reward for a sequence jump so a gap after
	// downtime is not over-rewarded.
	maxProgressReward = 5

	// defaultSegmentInterval is the expected inter-segment interval before
	// the first EXTINF duration has been observed.
	defaultSegmentInterval = 10 * time.Second
)

// ErrUnparsableSequence is returned when a non-empty manifest carries no
// parsable trailing segment sequence number; the update is aborted and the
// score left unchanged.
var ErrUnparsableSequence = errors.New("quality: unparsable segment sequence")

// Record holds the persisted score state for one content identifier.
type Record struct {
	Score                       int  `json:"score"`
	HasEverWorked               bool `json:"has_ever_worked"`
	ConsecutiveManifestFailures int  `json:"consecutive_manifest_failures"`

	// In-memory segment tracking, rebuilt from live traffic after a reload.
	lastSeq         int
	lastFetch       time.Time
	segmentInterval time.Duration
}

// Snapshot is the externally visible per-content quality state.
type Snapshot struct {
	Score         int  `json:"score"`
	HasEverWorked bool `json:"has_ever_worked"`
}

// Tracker maintains the score map and its durable JSON store.
type Tracker struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record

	lastPersist time.Time

	now func() time.Time
}

// NewTracker returns a tracker persisting to path. Existing state is loaded
// eagerly; entries with malformed identifiers are dropped with a warning.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{
		path:    path,
		records: make(map[string]*Record),
		now:     time.Now,
	}
	if err := t.load(); err != nil {
		return nil, fmt.Errorf("load quality store: %w", err)
	}
	return t, nil
}

// Get returns the quality snapshot for contentID, creating a zero record for
// a previously unseen identifier.
func (t *Tracker) Get(rawID string) (Snapshot, error) {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)
	return Snapshot{Score: rec.Score, HasEverWorked: rec.HasEverWorked}, nil
}

// Update applies one relay outcome for contentID. manifest is the raw
// playlist text, or the empty string when the fetch failed. The returned
// rating is the signed delta applied before clamping.
func (t *Tracker) Update(rawID, manifest string) (int, error) {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return 0, err
	}
	logger := log.WithComponent("quality")

	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)

	var rating int
	if manifest == "" {
		rating = -rec.ConsecutiveManifestFailures
		rec.ConsecutiveManifestFailures++
	} else {
		rec.ConsecutiveManifestFailures = 0
		seq, interval, ok := parseManifest(manifest)
		if !ok {
			logger.Warn().
				Str("event", "quality.unparsable").
				Str("content_id", id).
				Msg("manifest has no parsable segment sequence, skipping update")
			return 0, ErrUnparsableSequence
		}
		if interval > 0 {
			rec.segmentInterval = interval
		}
		rating = t.rateSequence(rec, seq)
	}

	if rating > 0 {
		rec.HasEverWorked = true
		if rec.Score < QualityOnFirstSuccess {
			rec.Score = QualityOnFirstSuccess
		}
	}
	rec.Score = clamp(rec.Score+rating, MinQuality, MaxQuality)

	metrics.IncQualityUpdate(rating)
	if err := t.persistLocked(); err != nil {
		logger.Error().
			Err(err).
			Str("event", "quality.persist_failed").
			Str("path", t.path).
			Msg("failed to persist quality store")
	}

	logger.Debug().
		Str("event", "quality.update").
		Str("content_id", id).
		Int("rating", rating).
		Int("score", rec.Score).
		Msg("quality updated")
	return rating, nil
}

// rateSequence scores one observed segment sequence number against the
// record's tracking state. Caller holds the lock.
func (t *Tracker) rateSequence(rec *Record, seq int) int {
	now := t.now()
	if seq != rec.lastSeq {
		rating := clamp(seq-rec.lastSeq, 1, maxProgressReward)
		rec.lastSeq = seq
		rec.lastFetch = now
		return rating
	}

	interval := rec.segmentInterval
	if interval <= 0 {
		interval = defaultSegmentInterval
	}
	if rec.lastFetch.IsZero() || now.Sub(rec.lastFetch) <= interval {
		// No new segment was due yet.
		return 0
	}
	if seq < newStreamSeqThreshold {
		return -1
	}
	return -4
}

func (t *Tracker) record(id string) *Record {
	rec, ok := t.records[id]
	if !ok {
		rec = &Record{}
		t.records[id] = rec
	}
	return rec
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
