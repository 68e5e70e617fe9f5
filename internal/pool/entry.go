// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pool

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/ace2g/internal/acestream"
	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/log"
)

const (
	// LockInTime is the minimum running time before an entry can lock in.
	LockInTime = 5 * time.Minute

	// LockInResetMax caps the grace period after the last access before an
	// entry is considered unlocked regardless of watch duration.
	LockInResetMax = 15 * time.Minute

	// staleGrace is the margin below which a mature, unlocked entry counts
	// as expired.
	staleGrace = time.Second

	// keepAliveTimeout bounds the best-effort manifest touch per entry.
	keepAliveTimeout = 3 * time.Second
)

// Entry represents one bound engine slot: a numbered engine process playing
// one content identifier. Slot number and content binding are immutable for
// the entry's lifetime; the session URLs are resolved lazily and the
// last-used timestamp is updated on every client access.
type Entry struct {
	slot      int
	contentID string

	client         *acestream.Client
	transcodeAudio bool
	recorder       BindingRecorder

	dateStarted time.Time
	lastUsed    atomic.Int64 // unix nanos

	mu      sync.Mutex
	session *acestream.Session

	httpGet func(ctx context.Context, url string) error
	now     func() time.Time
}

func newEntry(client *acestream.Client, slot int, contentID string, transcodeAudio bool, recorder BindingRecorder, now func() time.Time) *Entry {
	e := &Entry{
		slot:           slot,
		contentID:      contentID,
		client:         client,
		transcodeAudio: transcodeAudio,
		recorder:       recorder,
		dateStarted:    now(),
		httpGet:        defaultHTTPGet,
		now:            now,
	}
	e.lastUsed.Store(e.dateStarted.UnixNano())
	return e
}

// Slot returns the engine process number bound to this entry.
func (e *Entry) Slot() int { return e.slot }

// ContentID returns the content identifier bound to this entry.
func (e *Entry) ContentID() string { return e.contentID }

// Touch records a client access.
func (e *Entry) Touch() {
	e.lastUsed.Store(e.now().UnixNano())
}

// LastUsed returns the time of the most recent client access.
func (e *Entry) LastUsed() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

// PopulateURLs resolves the engine session for this binding. It is idempotent
// and safe to retry: a resolved entry returns immediately, a failed attempt
// leaves the entry unresolved and is logged as a warning.
func (e *Entry) PopulateURLs(ctx context.Context) error {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	logger := log.WithComponent("pool")
	sess, err := e.client.Start(ctx, e.contentID, e.slot, e.transcodeAudio)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "entry.resolve_failed").
			Int("slot", e.slot).
			Str("content_id", e.contentID).
			Msg("engine session resolution failed, entry stays unresolved")
		return err
	}

	e.mu.Lock()
	if e.session == nil {
		e.session = sess
	}
	e.mu.Unlock()

	if e.recorder != nil && sess.Infohash != "" {
		if err := e.recorder.Record(e.contentID, sess.Infohash); err != nil {
			logger.Warn().
				Err(err).
				Str("event", "entry.record_failed").
				Str("content_id", e.contentID).
				Msg("could not persist infohash mapping")
		}
	}
	return nil
}

// ManifestURL returns the resolved playback manifest URL, or "" while the
// entry is unresolved.
func (e *Entry) ManifestURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.PlaybackURL
}

// StatURL returns the resolved statistics URL, or "".
func (e *Entry) StatURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.StatURL
}

func (e *Entry) commandURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.CommandURL
}

// requiredTimeToUnlock is the grace window after the last access during which
// the entry stays locked in. It scales with how long the stream had been
// running when last accessed, capped at LockInResetMax.
func requiredTimeToUnlock(dateStarted, lastUsed time.Time) time.Duration {
	window := lastUsed.Sub(dateStarted)
	if window > LockInResetMax {
		return LockInResetMax
	}
	return window
}

func (e *Entry) isLockedInAt(now, lastUsed time.Time) bool {
	if now.Sub(e.dateStarted) <= LockInTime {
		return false
	}
	return now.Sub(lastUsed) <= requiredTimeToUnlock(e.dateStarted, lastUsed)
}

func (e *Entry) timeUntilUnlockAt(now, lastUsed time.Time) time.Duration {
	return lastUsed.Add(requiredTimeToUnlock(e.dateStarted, lastUsed)).Sub(now)
}

// IsLockedIn reports whether the entry is currently protected from
// reclamation. An entry younger than LockInTime is never locked in.
func (e *Entry) IsLockedIn() bool {
	return e.isLockedInAt(e.now(), e.LastUsed())
}

// TimeUntilUnlock returns the remaining lock-in window. Negative once the
// entry is past it.
func (e *Entry) TimeUntilUnlock() time.Duration {
	return e.timeUntilUnlockAt(e.now(), e.LastUsed())
}

// TimeRunning returns how long this binding has existed.
func (e *Entry) TimeRunning() time.Duration {
	return e.now().Sub(e.dateStarted)
}

// CheckStale decides eviction eligibility. Both conditions are evaluated
// from one consistent (now, lastUsed) snapshot:
//
//	A: the entry matured past LockInTime, is not locked in, and its unlock
//	   window has (nearly) elapsed.
//	B: the entry never reached LockInTime and has been unused longer than
//	   LockInResetMax.
func (e *Entry) CheckStale() bool {
	now := e.now()
	lastUsed := e.LastUsed()

	mature := now.Sub(e.dateStarted) > LockInTime
	if mature {
		return !e.isLockedInAt(now, lastUsed) && e.timeUntilUnlockAt(now, lastUsed) < staleGrace
	}
	return now.Sub(lastUsed) > LockInResetMax
}

// KeepAlive keeps the engine session warm: it retries URL resolution for
// unresolved entries and issues a best-effort GET against the manifest URL.
// Errors are suppressed.
func (e *Entry) KeepAlive(ctx context.Context) {
	if e.ManifestURL() == "" {
		_ = e.PopulateURLs(ctx)
	}
	if e.CheckStale() || !contentid.Valid(e.contentID) {
		return
	}
	manifestURL := e.ManifestURL()
	if manifestURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, keepAliveTimeout)
	defer cancel()
	if err := e.httpGet(ctx, manifestURL); err != nil {
		logger := log.WithComponent("pool")
		logger.Debug().
			Err(err).
			Str("event", "entry.keepalive_failed").
			Int("slot", e.slot).
			Msg("keep-alive request failed")
	}
}

// Stop issues a stop command for the entry's engine session. Failures are
// logged but not raised: the entry is being removed from the pool regardless.
func (e *Entry) Stop(ctx context.Context) {
	cmdURL := e.commandURL()
	if cmdURL == "" {
		return
	}
	if err := e.client.Stop(ctx, cmdURL); err != nil {
		logger := log.WithComponent("pool")
		logger.Warn().
			Err(err).
			Str("event", "entry.stop_failed").
			Int("slot", e.slot).
			Str("content_id", e.contentID).
			Msg("engine stop command failed")
	}
}

func defaultHTTPGet(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	return nil
}
