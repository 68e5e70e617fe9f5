// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pool multiplexes client requests onto a bounded set of engine
// process slots. Each slot binds one content identifier; actively watched
// bindings are protected by a lock-in window and everything else is
// reclaimable or evicted by the maintenance loop.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/ace2g/internal/acestream"
	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/log"
	"github.com/ManuGH/ace2g/internal/metrics"
)

const (
	// maintenanceInterval is the poolboy tick period.
	maintenanceInterval = 10 * time.Second

	// controlTimeout bounds health and stop calls issued by the loop.
	controlTimeout = 3 * time.Second
)

// ErrExhausted is returned when the pool is full and every slot is locked in.
var ErrExhausted = errors.New("pool: exhausted, all slots locked in")

// BindingRecorder observes successful session resolutions, e.g. to persist
// the content-id to infohash association.
type BindingRecorder interface {
	Record(contentID, infohash string) error
}

// Config carries the pool construction parameters.
type Config struct {
	MaxSize        int
	TranscodeAudio bool
	Recorder       BindingRecorder // optional
}

// Pool owns the slot map and its maintenance lifecycle.
type Pool struct {
	client *acestream.Client
	cfg    Config

	mu      sync.Mutex
	entries map[int]*Entry // slot number -> entry

	healthy       bool
	engineVersion string

	now func() time.Time
}

// New constructs an empty pool backed by the given engine client.
func New(client *acestream.Client, cfg Config) *Pool {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	return &Pool{
		client:  client,
		cfg:     cfg,
		entries: make(map[int]*Entry, cfg.MaxSize),
		now:     time.Now,
	}
}

// Resolve returns the manifest URL for contentID, binding a new slot when the
// content is not yet in the pool. The returned URL is empty while the engine
// session is still unresolved; callers must treat that as "not yet ready".
func (p *Pool) Resolve(ctx context.Context, rawID string) (string, error) {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return "", err
	}
	logger := log.WithComponentFromContext(ctx, "pool")

	p.mu.Lock()
	if e := p.findByContentLocked(id); e != nil {
		e.Touch()
		p.mu.Unlock()
		// Retry resolution for entries created while the engine was down.
		_ = e.PopulateURLs(ctx)
		return e.ManifestURL(), nil
	}

	slot, victim, err := p.availableSlotLocked()
	if err != nil {
		p.mu.Unlock()
		metrics.PoolExhaustedTotal.Inc()
		logger.Error().
			Str("event", "pool.exhausted").
			Str("content_id", id).
			Int("max_size", p.cfg.MaxSize).
			Msg("no reclaimable slot available")
		return "", err
	}
	if victim != nil {
		delete(p.entries, victim.Slot())
	}
	entry := newEntry(p.client, slot, id, p.cfg.TranscodeAudio, p.cfg.Recorder, p.now)
	p.entries[slot] = entry
	size := len(p.entries)
	p.mu.Unlock()

	metrics.SetPoolEntries(size)
	if victim != nil {
		metrics.PoolReclaimsTotal.Inc()
		logger.Info().
			Str("event", "pool.reclaim").
			Int("slot", slot).
			Str("evicted_content_id", victim.ContentID()).
			Str("content_id", id).
			Msg("reclaimed least recently used slot")
		victim.Stop(ctx)
	} else {
		logger.Info().
			Str("event", "pool.bind").
			Int("slot", slot).
			Str("content_id", id).
			Msg("bound content to free slot")
	}

	_ = entry.PopulateURLs(ctx)
	return entry.ManifestURL(), nil
}

// Remove stops and deletes the entry bound to contentID. It is idempotent and
// reports whether an entry was actually removed.
func (p *Pool) Remove(ctx context.Context, rawID string) (bool, error) {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	e := p.findByContentLocked(id)
	if e == nil {
		p.mu.Unlock()
		return false, nil
	}
	delete(p.entries, e.Slot())
	size := len(p.entries)
	p.mu.Unlock()

	metrics.SetPoolEntries(size)
	e.Stop(ctx)
	logger := log.WithComponentFromContext(ctx, "pool")
	logger.Info().
		Str("event", "pool.remove").
		Int("slot", e.Slot()).
		Str("content_id", id).
		Msg("entry removed")
	return true, nil
}

// Lookup returns the live entry bound to contentID, if any.
func (p *Pool) Lookup(rawID string) (*Entry, bool) {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.findByContentLocked(id)
	return e, e != nil
}

// EntryStatus is the inspection view of one live entry.
type EntryStatus struct {
	SlotNumber      int             `json:"slot_number"`
	ContentID       string          `json:"content_id"`
	LockedIn        bool            `json:"locked_in"`
	TimeUntilUnlock float64         `json:"time_until_unlock"`
	TimeRunning     float64         `json:"time_running"`
	ManifestURL     string          `json:"manifest_url"`
	Stat            json.RawMessage `json:"stat,omitempty"`
}

// Entries returns a status snapshot of every live entry, ordered by slot.
// Engine stat queries run outside the pool lock; a failed query leaves the
// stat field empty.
func (p *Pool) Entries(ctx context.Context) []EntryStatus {
	snapshot := p.snapshot()

	out := make([]EntryStatus, 0, len(snapshot))
	for _, e := range snapshot {
		st := EntryStatus{
			SlotNumber:      e.Slot(),
			ContentID:       e.ContentID(),
			LockedIn:        e.IsLockedIn(),
			TimeUntilUnlock: e.TimeUntilUnlock().Seconds(),
			TimeRunning:     e.TimeRunning().Seconds(),
			ManifestURL:     e.ManifestURL(),
		}
		if statURL := e.StatURL(); statURL != "" {
			statCtx, cancel := context.WithTimeout(ctx, controlTimeout)
			if blob, err := p.client.Stat(statCtx, statURL); err == nil {
				st.Stat = blob
			}
			cancel()
		}
		out = append(out, st)
	}
	return out
}

// Healthy reports the engine state observed by the last maintenance tick.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// EngineVersion returns the engine version string from the last health probe.
func (p *Pool) EngineVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engineVersion
}

// MaxSize returns the configured slot count.
func (p *Pool) MaxSize() int { return p.cfg.MaxSize }

// Size returns the number of live entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Run executes the maintenance loop ("poolboy") until ctx is cancelled.
// A tick never terminates the loop, whatever the engine does.
func (p *Pool) Run(ctx context.Context) error {
	logger := log.WithComponent("pool")
	logger.Info().
		Str("event", "poolboy.start").
		Dur("interval", maintenanceInterval).
		Int("max_size", p.cfg.MaxSize).
		Msg("maintenance loop started")

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("event", "poolboy.stop").Msg("maintenance loop stopped")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one maintenance pass: engine health probe, stale collection in a
// first pass, removal and stop in a second, then concurrent keep-alive for
// the survivors. The collection map is never mutated while iterating it.
func (p *Pool) tick(ctx context.Context) {
	logger := log.WithComponent("pool")
	p.checkEngineHealth(ctx)

	// Pass 1: collect stale entries from a snapshot.
	var stale, alive []*Entry
	for _, e := range p.snapshot() {
		if e.CheckStale() {
			stale = append(stale, e)
		} else {
			alive = append(alive, e)
		}
	}

	// Pass 2: structural removal under the lock, stop calls outside it.
	for _, e := range stale {
		p.mu.Lock()
		// Re-check the binding: a request may have rebound the slot.
		if cur, ok := p.entries[e.Slot()]; ok && cur == e {
			delete(p.entries, e.Slot())
		}
		size := len(p.entries)
		p.mu.Unlock()

		metrics.SetPoolEntries(size)
		metrics.PoolEvictionsTotal.Inc()
		logger.Info().
			Str("event", "poolboy.evict").
			Int("slot", e.Slot()).
			Str("content_id", e.ContentID()).
			Msg("evicting stale entry")

		stopCtx, cancel := context.WithTimeout(ctx, controlTimeout)
		e.Stop(stopCtx)
		cancel()
	}

	// Keep-alive for survivors, concurrently so one slow engine call cannot
	// starve the others within the tick.
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range alive {
		e := e
		g.Go(func() error {
			e.KeepAlive(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) checkEngineHealth(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	version, err := p.client.Version(probeCtx)

	p.mu.Lock()
	wasHealthy := p.healthy
	p.healthy = err == nil
	if err == nil {
		p.engineVersion = version
	}
	p.mu.Unlock()

	metrics.SetEngineHealthy(err == nil)
	if err != nil && wasHealthy {
		logger := log.WithComponent("pool")
		logger.Warn().
			Err(err).
			Str("event", "poolboy.engine_unhealthy").
			Msg("engine health probe failed")
	}
}

// snapshot copies the live entries out of the lock, ordered by slot number.
func (p *Pool) snapshot() []*Entry {
	p.mu.Lock()
	out := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Slot() < out[j].Slot() })
	return out
}

func (p *Pool) findByContentLocked(id string) *Entry {
	for _, e := range p.entries {
		if e.ContentID() == id {
			return e
		}
	}
	return nil
}

// availableSlotLocked returns the lowest unused slot number, or picks a
// reclamation victim when the pool is full: the non-locked-in entry with the
// oldest last access, lowest slot number breaking ties. Caller holds the lock.
func (p *Pool) availableSlotLocked() (int, *Entry, error) {
	for slot := 1; slot <= p.cfg.MaxSize; slot++ {
		if _, taken := p.entries[slot]; !taken {
			return slot, nil, nil
		}
	}

	var victim *Entry
	for slot := 1; slot <= p.cfg.MaxSize; slot++ {
		e := p.entries[slot]
		if e.IsLockedIn() {
			continue
		}
		if victim == nil || e.LastUsed().Before(victim.LastUsed()) {
			victim = e
		}
	}
	if victim == nil {
		return 0, nil, fmt.Errorf("%w (max_size=%d)", ErrExhausted, p.cfg.MaxSize)
	}
	return victim.Slot(), victim, nil
}
